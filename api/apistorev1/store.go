package apistorev1

import (
	"context"
	"net/http"

	"github.com/fulldump/box"

	"github.com/fulldump/qmapdb/service"
)

func listStores(ctx context.Context) []*service.StoreInfo {
	return GetServicer(ctx).ListStores()
}

func openStore(ctx context.Context, w http.ResponseWriter, input *service.OpenStoreInput) (*service.StoreInfo, error) {

	info, err := GetServicer(ctx).OpenStore(input)
	if err != nil {
		return nil, err
	}

	w.WriteHeader(http.StatusCreated)
	return info, nil
}

func getStore(ctx context.Context) (*service.StoreInfo, error) {
	storeName := box.GetUrlParameter(ctx, "storeName")
	return GetServicer(ctx).GetStore(storeName)
}

func closeStore(ctx context.Context) error {
	storeName := box.GetUrlParameter(ctx, "storeName")
	return GetServicer(ctx).CloseStore(storeName)
}

func dropStore(ctx context.Context) error {
	storeName := box.GetUrlParameter(ctx, "storeName")
	return GetServicer(ctx).DropStore(storeName)
}

func save(ctx context.Context) error {
	return GetServicer(ctx).Save()
}
