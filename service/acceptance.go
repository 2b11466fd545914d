package service

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/fulldump/apitest"
	"github.com/fulldump/biff"
)

type JSON = map[string]interface{}

func scanLines(body string) []interface{} {
	result := []interface{}{}
	dec := json.NewDecoder(strings.NewReader(body))
	for dec.More() {
		var line interface{}
		if dec.Decode(&line) != nil {
			break
		}
		result = append(result, line)
	}
	return result
}

func Acceptance(a *biff.A, apiRequest func(method, path string) *apitest.Request) {

	a.Alternative("Open store", func(a *biff.A) {
		resp := apiRequest("POST", "/stores").
			WithBodyJson(JSON{
				"name":     "users",
				"key":      "string",
				"value":    "u32",
				"features": "sorted",
			}).Do()
		Save(resp, "Open store", `
			Opens the store, creating its file under the data directory when
			it does not exist yet.
		`)

		biff.AssertEqual(resp.StatusCode, http.StatusCreated)
		body := resp.BodyJson().(JSON)
		biff.AssertEqual(body["name"], "users")
		biff.AssertEqual(body["path"], "users")
		biff.AssertEqual(body["key_kind"], "string")
		biff.AssertEqual(body["value_kind"], "u32")
		biff.AssertEqual(body["features"], "sorted")
		biff.AssertEqual(body["records"], json.Number("0"))

		a.Alternative("Open twice", func(a *biff.A) {
			resp := apiRequest("POST", "/stores").
				WithBodyJson(JSON{"name": "users", "key": "string", "value": "u32", "features": "sorted"}).Do()

			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})

		a.Alternative("Get store", func(a *biff.A) {
			resp := apiRequest("GET", "/stores/users").Do()
			Save(resp, "Get store", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			body := resp.BodyJson().(JSON)
			biff.AssertEqual(body["name"], "users")
			biff.AssertNotNil(body["stats"])
		})

		a.Alternative("List stores", func(a *biff.A) {
			resp := apiRequest("GET", "/stores").Do()
			Save(resp, "List stores", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusOK)
			list := resp.BodyJson().([]interface{})
			biff.AssertEqual(len(list), 1)
		})

		a.Alternative("Put", func(a *biff.A) {
			resp := apiRequest("POST", "/stores/users:put").
				WithBodyJson(JSON{"key": "alice", "value": 30}).Do()
			Save(resp, "Put", ``)

			biff.AssertEqual(resp.StatusCode, http.StatusCreated)
			biff.AssertEqualJson(resp.BodyJson(), JSON{"inserted": true})

			a.Alternative("Put again", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:put").
					WithBodyJson(JSON{"key": "alice", "value": 31}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"inserted": false})
			})

			a.Alternative("Put bad value", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:put").
					WithBodyJson(JSON{"key": "bob", "value": "thirty"}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
			})

			a.Alternative("Get", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:get").
					WithBodyJson(JSON{"key": "alice"}).Do()
				Save(resp, "Get", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"key": "alice", "value": 30})
			})

			a.Alternative("Get missing", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:get").
					WithBodyJson(JSON{"key": "nobody"}).Do()

				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})

			a.Alternative("Delete", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:del").
					WithBodyJson(JSON{"key": "alice"}).Do()
				Save(resp, "Delete", ``)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(resp.BodyJson(), JSON{"found": true})

				resp = apiRequest("POST", "/stores/users:get").
					WithBodyJson(JSON{"key": "alice"}).Do()
				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
			})

			a.Alternative("Scan", func(a *biff.A) {
				apiRequest("POST", "/stores/users:put").WithBodyJson(JSON{"key": "carol", "value": 40}).Do()
				apiRequest("POST", "/stores/users:put").WithBodyJson(JSON{"key": "bob", "value": 20}).Do()

				resp := apiRequest("POST", "/stores/users:scan").
					WithBodyJson(JSON{"range": true}).Do()
				Save(resp, "Scan", `
					Walks the store in key order when it is sorted. Every record is
					written in its own line.
				`)

				biff.AssertEqual(resp.StatusCode, http.StatusOK)
				biff.AssertEqualJson(scanLines(resp.BodyString()), []JSON{
					{"key": "alice", "value": 30},
					{"key": "bob", "value": 20},
					{"key": "carol", "value": 40},
				})

				a.Alternative("Scan from", func(a *biff.A) {
					resp := apiRequest("POST", "/stores/users:scan").
						WithBodyJson(JSON{"range": true, "from": "b", "limit": 1}).Do()

					biff.AssertEqualJson(scanLines(resp.BodyString()), []JSON{
						{"key": "bob", "value": 20},
					})
				})

				a.Alternative("Scan with filter", func(a *biff.A) {
					resp := apiRequest("POST", "/stores/users:scan").
						WithBodyJson(JSON{
							"range":  true,
							"filter": JSON{"value": JSON{"$gt": 25}},
						}).Do()
					Save(resp, "Scan - filter", ``)

					biff.AssertEqualJson(scanLines(resp.BodyString()), []JSON{
						{"key": "alice", "value": 30},
						{"key": "carol", "value": 40},
					})
				})
			})

			a.Alternative("Close and open again", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:close").Do()
				Save(resp, "Close store", ``)
				biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

				resp = apiRequest("GET", "/stores/users").Do()
				biff.AssertEqual(resp.StatusCode, http.StatusNotFound)

				resp = apiRequest("POST", "/stores").
					WithBodyJson(JSON{"name": "users", "key": "string", "value": "u32", "features": "sorted"}).Do()
				biff.AssertEqual(resp.StatusCode, http.StatusCreated)
				biff.AssertEqual(resp.BodyJson().(JSON)["records"], json.Number("1"))
			})

			a.Alternative("Drop and open again", func(a *biff.A) {
				resp := apiRequest("POST", "/stores/users:drop").Do()
				Save(resp, "Drop store", `
					Releases the store without saving. Changes since the last save
					are lost.
				`)
				biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

				resp = apiRequest("POST", "/stores").
					WithBodyJson(JSON{"name": "users", "key": "string", "value": "u32", "features": "sorted"}).Do()
				biff.AssertEqual(resp.BodyJson().(JSON)["records"], json.Number("0"))
			})

			a.Alternative("Save then drop", func(a *biff.A) {
				resp := apiRequest("POST", "/save").Do()
				Save(resp, "Save", ``)
				biff.AssertEqual(resp.StatusCode, http.StatusNoContent)

				apiRequest("POST", "/stores/users:drop").Do()
				resp = apiRequest("POST", "/stores").
					WithBodyJson(JSON{"name": "users", "key": "string", "value": "u32", "features": "sorted"}).Do()
				biff.AssertEqual(resp.BodyJson().(JSON)["records"], json.Number("1"))
			})
		})

		a.Alternative("Open with other kinds", func(a *biff.A) {
			resp := apiRequest("POST", "/stores").
				WithBodyJson(JSON{"name": "users", "key": "u32", "value": "u32"}).Do()

			// the store is open, so this is a conflict before any check
			biff.AssertEqual(resp.StatusCode, http.StatusConflict)
		})
	})

	a.Alternative("Open with unknown kind", func(a *biff.A) {
		resp := apiRequest("POST", "/stores").
			WithBodyJson(JSON{"name": "things", "key": "float", "value": "u32"}).Do()

		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})

	a.Alternative("Store not found", func(a *biff.A) {
		resp := apiRequest("POST", "/stores/nothing:get").
			WithBodyJson(JSON{"key": "a"}).Do()

		biff.AssertEqual(resp.StatusCode, http.StatusNotFound)
	})

	a.Alternative("Blob store", func(a *biff.A) {
		apiRequest("POST", "/stores").
			WithBodyJson(JSON{"name": "files", "key": "blob", "value": "blob", "features": "mirror|pget"}).Do()

		key := "aGVsbG8=" // hello
		value := "d29ybGQ=" // world
		resp := apiRequest("POST", "/stores/files:put").
			WithBodyJson(JSON{"key": key, "value": value}).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusCreated)

		resp = apiRequest("POST", "/stores/files:get").
			WithBodyJson(JSON{"key": key}).Do()
		biff.AssertEqualJson(resp.BodyJson(), JSON{"key": key, "value": value})

		resp = apiRequest("POST", "/stores/files:put").
			WithBodyJson(JSON{"key": "not base64!", "value": value}).Do()
		biff.AssertEqual(resp.StatusCode, http.StatusBadRequest)
	})
}
