package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/docker/go-units"
	"github.com/pingcap-incubator/sqlmdb/kv/btree"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap-incubator/sqlmdb/kv/record"
	"github.com/pingcap-incubator/sqlmdb/kv/util"
	"github.com/pingcap-incubator/sqlmdb/kv/util/engine_util"
	"github.com/pingcap/errors"
	"github.com/pingcap/log"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

var (
	configPath string
	dbPath     string
	dumpLimit  int
)

var metaNames = []struct {
	slot int
	name string
}{
	{engine_util.MetaFreePageCount, "free-page-count"},
	{engine_util.MetaSchemaVersion, "schema-version"},
	{engine_util.MetaFileFormat, "file-format"},
	{engine_util.MetaDefaultCacheSize, "default-cache-size"},
	{engine_util.MetaLargestTable, "largest-table"},
	{engine_util.MetaTextEncoding, "text-encoding"},
	{engine_util.MetaUserVersion, "user-version"},
	{engine_util.MetaIncrVacuum, "incremental-vacuum"},
	{engine_util.MetaApplicationID, "application-id"},
	{engine_util.MetaDataVersion, "data-version"},
}

func loadConfig() (*config.Config, error) {
	if configPath == "" {
		return config.NewDefaultConfig(), nil
	}
	return config.LoadFile(configPath)
}

// openStore opens the store read-only and starts a read transaction on it.
func openStore() (*btree.Btree, error) {
	if dbPath == "" {
		return nil, errors.New("--db is required")
	}
	conf, err := loadConfig()
	if err != nil {
		return nil, err
	}
	lg, props, err := log.InitLogger(&log.Config{Level: conf.LogLevel})
	if err != nil {
		return nil, errors.Trace(err)
	}
	log.ReplaceGlobals(lg, props)

	bt, err := btree.Open(dbPath, conf, btree.OpenReadOnly)
	if err != nil {
		return nil, err
	}
	if err = bt.BeginTrans(false); err != nil {
		bt.Close()
		return nil, err
	}
	return bt, nil
}

func withStore(fn func(cmd *cobra.Command, bt *btree.Btree, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		bt, err := openStore()
		if err != nil {
			return err
		}
		defer bt.Close()
		err = fn(cmd, bt, args)
		if err != nil {
			log.Debug("command failed", zap.String("cmd", cmd.Name()), zap.Stringer("code", btree.Code(err)))
		}
		return err
	}
}

func newTablesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List the tables of a store",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, bt *btree.Btree, _ []string) error {
			infos, err := bt.Tables()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-10s %-6s %s\n", "ID", "KIND", "ENTRIES")
			for _, info := range infos {
				fmt.Fprintf(out, "%-10d %-6s %d\n", info.ID, info.Kind, info.Entries)
			}
			return nil
		}),
	}
}

func newMetaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "meta",
		Short: "Print the meta slots of a store",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, bt *btree.Btree, _ []string) error {
			for _, m := range metaNames {
				v, err := bt.GetMeta(m.slot)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%2d %-20s %d\n", m.slot, m.name, v)
			}
			return nil
		}),
	}
}

func newDumpCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dump <table>",
		Short: "Print the entries of a table",
		Args:  cobra.ExactArgs(1),
		RunE: withStore(func(cmd *cobra.Command, bt *btree.Btree, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return errors.Errorf("bad table id %q", args[0])
			}
			return dumpTable(cmd, bt, id)
		}),
	}
	cmd.Flags().IntVar(&dumpLimit, "limit", 0, "stop after this many entries, 0 for all")
	return cmd
}

func dumpTable(cmd *cobra.Command, bt *btree.Btree, id int) error {
	infos, err := bt.Tables()
	if err != nil {
		return err
	}
	var ki *record.KeyInfo
	found := false
	for _, info := range infos {
		if info.ID == id {
			found = true
			if info.Kind == btree.TableIndex {
				ki = &record.KeyInfo{}
			}
		}
	}
	if !found {
		return errors.Errorf("no table %d", id)
	}
	c, err := bt.Cursor(id, false, ki)
	if err != nil {
		return err
	}
	defer c.Close()
	out := cmd.OutOrStdout()
	n := 0
	eof, err := c.First()
	for ; err == nil && !eof; eof, err = c.Next() {
		if dumpLimit > 0 && n >= dumpLimit {
			break
		}
		n++
		if ki != nil {
			key, err := c.KeyFetch()
			if err != nil {
				return err
			}
			fmt.Fprintln(out, formatRecord(key))
			continue
		}
		rowid, err := c.IntegerKey()
		if err != nil {
			return err
		}
		data, err := c.DataFetch()
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "%d: %s\n", rowid, formatRecord(data))
	}
	return err
}

func formatRecord(rec []byte) string {
	values, err := record.Decode(rec)
	if err != nil {
		return hex.EncodeToString(rec)
	}
	s := "("
	for i, v := range values {
		if i > 0 {
			s += ", "
		}
		s += formatValue(v)
	}
	return s + ")"
}

func formatValue(v record.Value) string {
	switch v.Kind {
	case record.KindInt:
		return strconv.FormatInt(v.I, 10)
	case record.KindFloat:
		return strconv.FormatFloat(v.F, 'g', -1, 64)
	case record.KindText:
		return strconv.Quote(string(v.B))
	case record.KindBlob:
		return "x'" + hex.EncodeToString(v.B) + "'"
	}
	return "NULL"
}

func newStatCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stat",
		Short: "Print size and page information of a store",
		Args:  cobra.NoArgs,
		RunE: withStore(func(cmd *cobra.Command, bt *btree.Btree, _ []string) error {
			size, err := util.GetFileSize(bt.Path())
			if err != nil {
				return err
			}
			pageSize, err := bt.PageSize()
			if err != nil {
				return err
			}
			infos, err := bt.Tables()
			if err != nil {
				return err
			}
			var entries int64
			for _, info := range infos {
				entries += info.Entries
			}
			version, err := bt.GetMeta(engine_util.MetaDataVersion)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "path:         %s\n", bt.Path())
			fmt.Fprintf(out, "size:         %s\n", units.BytesSize(float64(size)))
			fmt.Fprintf(out, "page size:    %s\n", units.BytesSize(float64(pageSize)))
			fmt.Fprintf(out, "tables:       %d\n", len(infos))
			fmt.Fprintf(out, "entries:      %d\n", entries)
			fmt.Fprintf(out, "data version: %d\n", version)
			if usage, err := disk.Usage(filepath.Dir(bt.Path())); err == nil {
				fmt.Fprintf(out, "disk free:    %s of %s\n", units.BytesSize(float64(usage.Free)), units.BytesSize(float64(usage.Total)))
			} else {
				log.Warn("disk usage unavailable", zap.Error(err))
			}
			return nil
		}),
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "sqlmdb-ctl",
		Short:         "Inspect sqlmdb stores",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	addStoreFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(
		newTablesCommand(),
		newMetaCommand(),
		newDumpCommand(),
		newStatCommand(),
		newServeCommand(),
	)
	return rootCmd
}

func addStoreFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&configPath, "config", "c", "", "config file path")
	fs.StringVarP(&dbPath, "db", "d", "", "store data file")
}

func main() {
	cobra.EnablePrefixMatching = true
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
