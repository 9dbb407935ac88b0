// Package backup exposes a webhook for taking an on-demand snapshot of the
// coordinator database, served by the monitoring endpoint.
package backup

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

// Exporter defines a backup exporter's methods.
type Exporter interface {
	Backup(ctx context.Context, outputDir string) error
}

// Handler accepts requests to initiate a new database backup.
func Handler(bk Exporter, outputDir string) func(http.ResponseWriter, *http.Request) {
	log := logrus.WithField("prefix", "db")

	return func(w http.ResponseWriter, _ *http.Request) {
		log.Debug("Creating database backup from HTTP webhook")

		if err := bk.Backup(context.Background(), outputDir); err != nil {
			log.WithError(err).Error("Failed to create backup")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
		if _, err := fmt.Fprint(w, "OK"); err != nil {
			log.WithError(err).Error("Failed to write OK")
		}
	}
}
