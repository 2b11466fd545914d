package configuration

import (
	"testing"

	. "github.com/fulldump/biff"
)

func TestDefault(t *testing.T) {

	c := Default()

	AssertEqual(c.HttpAddr, "localhost:8080")
	AssertEqual(c.Engine, "journal")
	AssertEqual(c.LogLevel, "info")
	AssertFalse(c.ReadOnly)
}
