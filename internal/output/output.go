// Package output renders batch files as downloadable artifacts.
package output

import (
	"encoding/csv"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/robertlestak/txbatch/internal/checksum"
	"github.com/robertlestak/txbatch/internal/schema"
	log "github.com/sirupsen/logrus"
)

const ContentType = "application/json"

// Filename is the download name of b.
func Filename(b *schema.BatchFile) string {
	return b.Meta.Name + ".json"
}

// WriteJSON writes the canonical JSON form of b.
func WriteJSON(w io.Writer, b *schema.BatchFile) error {
	jd, err := checksum.Stringify(b)
	if err != nil {
		return err
	}
	_, err = w.Write(jd)
	return err
}

// OpensInline reports whether the browser behind userAgent cannot be relied
// on to download blob content and should be sent the file to open instead.
func OpensInline(userAgent string) bool {
	if strings.Contains(userAgent, "Firefox") {
		return true
	}
	return strings.Contains(userAgent, "Safari") && !strings.Contains(userAgent, "Chrome")
}

// ContentDisposition returns the Content-Disposition header value for
// serving filename to userAgent.
func ContentDisposition(userAgent string, filename string) string {
	disposition := "attachment"
	if OpensInline(userAgent) {
		disposition = "inline"
	}
	return mime.FormatMediaType(disposition, map[string]string{"filename": filename})
}

// Path is where b is written when exported into dir. Path separators in the
// batch name are replaced.
func Path(dir string, b *schema.BatchFile) string {
	name := strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(Filename(b))
	return filepath.Join(dir, name)
}

func csvRowHeader() []string {
	return []string{"index", "to", "value", "method", "data"}
}

// WriteTransactionsCSV writes one row per transaction, in batch order.
func WriteTransactionsCSV(w io.Writer, b *schema.BatchFile) error {
	l := log.WithFields(log.Fields{
		"package": "output",
		"func":    "WriteTransactionsCSV",
		"txs":     len(b.Transactions),
	})
	cw := csv.NewWriter(w)
	if err := cw.Write(csvRowHeader()); err != nil {
		l.Error(err)
		return err
	}
	for i, tx := range b.Transactions {
		var method string
		if tx.ContractMethod != nil {
			method = tx.ContractMethod.Name
		}
		row := []string{strconv.Itoa(i), tx.To, tx.Value, method, tx.Data}
		if err := cw.Write(row); err != nil {
			l.Error(err)
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
