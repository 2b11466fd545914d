package apistorev1

import (
	"context"
	"net/http"

	"github.com/fulldump/box"
)

type putRequest struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

type putResponse struct {
	Inserted bool `json:"inserted"`
}

func put(ctx context.Context, w http.ResponseWriter, input *putRequest) (*putResponse, error) {

	storeName := box.GetUrlParameter(ctx, "storeName")
	inserted, err := GetServicer(ctx).Put(storeName, input.Key, input.Value)
	if err != nil {
		return nil, err
	}

	if inserted {
		w.WriteHeader(http.StatusCreated)
	}
	return &putResponse{Inserted: inserted}, nil
}

type keyRequest struct {
	Key any `json:"key"`
}

type recordResponse struct {
	Key   any `json:"key"`
	Value any `json:"value"`
}

func get(ctx context.Context, w http.ResponseWriter, input *keyRequest) (*recordResponse, error) {

	storeName := box.GetUrlParameter(ctx, "storeName")
	value, found, err := GetServicer(ctx).Get(storeName, input.Key)
	if err != nil {
		return nil, err
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return nil, nil
	}

	return &recordResponse{Key: input.Key, Value: value}, nil
}

type delResponse struct {
	Found bool `json:"found"`
}

func del(ctx context.Context, input *keyRequest) (*delResponse, error) {

	storeName := box.GetUrlParameter(ctx, "storeName")
	found, err := GetServicer(ctx).Delete(storeName, input.Key)
	if err != nil {
		return nil, err
	}

	return &delResponse{Found: found}, nil
}
