package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/robertlestak/txbatch/internal/importer"
	"github.com/robertlestak/txbatch/internal/output"
	log "github.com/sirupsen/logrus"
)

var stdout io.Writer = os.Stdout

func printJSON(v interface{}) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func (a *app) cliImport(args []string) error {
	l := log.WithFields(log.Fields{
		"func": "cliImport",
	})
	l.Info("start")
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	var file string
	var url string
	var save bool
	fs.StringVar(&file, "f", "", "file to import")
	fs.StringVar(&url, "u", "", "url to import from")
	fs.BoolVar(&save, "save", false, "save an imported batch to the store")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (file == "") == (url == "") {
		return errors.New("exactly one of -f or -u is required")
	}
	ctx := context.Background()
	var res *importer.Result
	var err error
	if url != "" {
		res, err = a.importer.ImportURL(ctx, url, a.cfg.ImportToken)
	} else {
		var f *os.File
		f, err = os.Open(file)
		if err != nil {
			return err
		}
		defer f.Close()
		res, err = a.importer.Import(ctx, f)
	}
	if err != nil {
		return err
	}
	resp := struct {
		*importer.Result
		ID     string            `json:"id,omitempty"`
		Failed map[string]string `json:"failed,omitempty"`
	}{Result: res, Failed: res.FailedReasons()}
	if save && res.Batch != nil {
		id, _, err := a.store.Create(ctx, res.Batch)
		if err != nil {
			return err
		}
		resp.ID = id
	}
	if res.Kind == importer.KindUnrecognized {
		l.Warn("file format not recognized, nothing imported")
	}
	return printJSON(resp)
}

func (a *app) cliExport(args []string) error {
	l := log.WithFields(log.Fields{
		"func": "cliExport",
	})
	l.Info("start")
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	var id string
	var dir string
	var asCSV bool
	fs.StringVar(&id, "id", "", "batch id")
	fs.StringVar(&dir, "o", a.cfg.OutputDir, "output directory")
	fs.BoolVar(&asCSV, "csv", false, "write a csv transaction summary to stdout instead")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return errors.New("-id is required")
	}
	ctx := context.Background()
	b, err := a.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if asCSV {
		return output.WriteTransactionsCSV(stdout, b)
	}
	out := output.Path(dir, b)
	l.WithField("out", out).Info("Writing batch file")
	f, err := os.OpenFile(out, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer f.Close()
	if _, err := a.store.Export(ctx, f, b); err != nil {
		return err
	}
	fmt.Fprintln(stdout, out)
	return nil
}

func (a *app) cliList(args []string) error {
	fs := flag.NewFlagSet("list", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	batches, err := a.store.ListAll(context.Background())
	if err != nil {
		return err
	}
	type summary struct {
		Name         string `json:"name"`
		ChainID      string `json:"chainId"`
		CreatedAt    int64  `json:"createdAt"`
		Transactions int    `json:"transactions"`
	}
	out := make(map[string]summary, len(batches))
	for id, b := range batches {
		out[id] = summary{
			Name:         b.Meta.Name,
			ChainID:      b.ChainID,
			CreatedAt:    b.CreatedAt,
			Transactions: len(b.Transactions),
		}
	}
	return printJSON(out)
}

func (a *app) cliGet(args []string) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	var id string
	fs.StringVar(&id, "id", "", "batch id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return errors.New("-id is required")
	}
	b, err := a.store.Get(context.Background(), id)
	if err != nil {
		return err
	}
	return printJSON(b)
}

func (a *app) cliRemove(args []string) error {
	fs := flag.NewFlagSet("rm", flag.ContinueOnError)
	var id string
	fs.StringVar(&id, "id", "", "batch id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if id == "" {
		return errors.New("-id is required")
	}
	return a.store.Remove(context.Background(), id)
}
