package cedar

import (
	"testing"

	"github.com/ValentinKolb/rkv/lib/db"
	dbtesting "github.com/ValentinKolb/rkv/lib/db/testing"
)

func Test(t *testing.T) {
	dbtesting.RunKVDBTests(t, "CedarDB", func() db.KVDB {
		return NewCedarDB()
	})
}

func Benchmark(b *testing.B) {
	dbtesting.RunKVDBBenchmarks(b, "CedarDB", func() db.KVDB {
		return NewCedarDB()
	})
}
