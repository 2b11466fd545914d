package utils

import (
	"encoding/json"
)

// Remarshal copies input into output through its JSON form. Numbers
// become float64 when output is a map.
func Remarshal(input interface{}, output interface{}) (err error) {
	b, err := json.Marshal(input)
	if nil != err {
		return
	}
	return json.Unmarshal(b, output)
}
