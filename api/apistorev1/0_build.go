package apistorev1

import (
	"github.com/fulldump/box"

	"github.com/fulldump/qmapdb/service"
)

func BuildV1Store(v1 *box.R, s service.Servicer) *box.R {

	stores := v1.Resource("/stores").
		WithActions(
			box.Get(listStores),
			box.Post(openStore),
		)

	v1.Resource("/stores/{storeName}").
		WithActions(
			box.Get(getStore),
			box.ActionPost(put),
			box.ActionPost(get),
			box.ActionPost(del),
			box.ActionPost(scan),
			box.ActionPost(closeStore).WithName("close"),
			box.ActionPost(dropStore).WithName("drop"),
		)

	v1.Resource("/save").
		WithActions(
			box.Post(save),
		)

	return stores
}
