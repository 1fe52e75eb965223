// Package version хранит сведения о сборке, заданные через -ldflags:
//
//	-X github.com/vladislavdragonenkov/storefront/internal/version.version=v1.2.0
package version

import (
	"fmt"
	"runtime"

	log "github.com/sirupsen/logrus"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build описывает собранный бинарь.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"goVersion"`
}

func Get() Build {
	return Build{Version: version, Commit: commit, Date: date, GoVersion: runtime.Version()}
}

func (b Build) String() string {
	return fmt.Sprintf("%s (%s, built %s, %s)", b.Version, shortCommit(b.Commit), b.Date, b.GoVersion)
}

// Fields раскладывает сведения о сборке в поля стартовой записи лога.
func (b Build) Fields() log.Fields {
	return log.Fields{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
		"go_version": b.GoVersion,
	}
}

func shortCommit(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}
