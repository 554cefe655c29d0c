package module

import (
	"testing"

	"mquery/internal/platform/config"

	"github.com/stretchr/testify/assert"
)

func TestConfirmCapFollowsIngestCap(t *testing.T) {
	cases := []struct {
		name         string
		ingest, jobs string
		want         int64
	}{
		{"defaults", "", "", 256 << 20},
		{"inherits ingest", "4096", "", 4096},
		{"raised above ingest", "4096", "8192", 8192},
		{"never below ingest", "4096", "1024", 4096},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv("INGEST_MAX_FILE_BYTES", tc.ingest)
			t.Setenv("JOBS_MAX_FILE_BYTES", tc.jobs)
			assert.Equal(t, tc.want, FromConfig(config.New()).MaxFileBytes)
		})
	}
}
