package apistorev1

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/SierraSoftworks/connor"
	"github.com/fulldump/box"

	"github.com/fulldump/qmapdb/service"
	"github.com/fulldump/qmapdb/utils"
)

type scanRequest struct {
	service.ScanInput
	Filter map[string]interface{} `json:"filter"`
	Skip   int64                  `json:"skip"`
	Limit  int64                  `json:"limit"`
}

// scan writes one JSON line per record. The filter is matched against
// {"key": ..., "value": ...}.
func scan(ctx context.Context, w http.ResponseWriter, r *http.Request) error {

	params := &scanRequest{
		Limit: 100,
	}
	err := json.NewDecoder(r.Body).Decode(params)
	if err != nil && err != io.EOF {
		return err
	}

	hasFilter := len(params.Filter) > 0
	skip := params.Skip
	limit := params.Limit

	var matchErr error
	storeName := box.GetUrlParameter(ctx, "storeName")
	err = GetServicer(ctx).Scan(storeName, &params.ScanInput, func(key, value any) bool {
		if limit == 0 {
			return false
		}

		line, err := json.Marshal(recordResponse{Key: key, Value: value})
		if err != nil {
			matchErr = err
			return false
		}

		if hasFilter {
			rowData := map[string]interface{}{}
			err := utils.Remarshal(recordResponse{Key: key, Value: value}, &rowData)
			if err != nil {
				matchErr = err
				return false
			}

			match, err := connor.Match(params.Filter, rowData)
			if err != nil {
				matchErr = fmt.Errorf("match: %w", err)
				return false
			}
			if !match {
				return true
			}
		}

		if skip > 0 {
			skip--
			return true
		}

		limit--
		w.Write(line)
		w.Write([]byte("\n"))
		return true
	})
	if err != nil {
		return err
	}

	return matchErr
}
