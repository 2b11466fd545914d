package api

import (
	"compress/gzip"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/fulldump/box"
	"github.com/fulldump/biff"
)

func TestCompression(t *testing.T) {

	b := box.NewBox()
	b.WithInterceptors(Compression)
	b.Resource("/hello").WithActions(box.Get(func() string {
		return "hello"
	}))

	r := httptest.NewRequest("GET", "/hello", nil)
	r.Header.Set("Accept-Encoding", "gzip")
	w := httptest.NewRecorder()
	box.Box2Http(b).ServeHTTP(w, r)

	biff.AssertEqual(w.Header().Get("Content-Encoding"), "gzip")

	gz, err := gzip.NewReader(w.Body)
	biff.AssertNil(err)
	body, _ := io.ReadAll(gz)
	biff.AssertEqual(string(body), "\"hello\"\n")
}
