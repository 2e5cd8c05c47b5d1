package main

import (
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/pingcap-incubator/sqlmdb/kv/btree"
	"github.com/pingcap-incubator/sqlmdb/kv/config"
	"github.com/pingcap/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/unrolled/render"
	"go.uber.org/zap"
)

var statusAddr string

// statusHandler answers read-only queries about a store. Every request uses its own connection,
// so requests run concurrently against the same shared database.
type statusHandler struct {
	path string
	conf *config.Config
	rd   *render.Render
}

type metaEntry struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Value uint32 `json:"value"`
}

type tableEntry struct {
	ID      int    `json:"id"`
	Kind    string `json:"kind"`
	Entries int64  `json:"entries"`
}

func (h *statusHandler) view(w http.ResponseWriter, fn func(bt *btree.Btree) (interface{}, error)) {
	bt, err := btree.Open(h.path, h.conf, btree.OpenReadOnly)
	if err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer bt.Close()
	if err = bt.BeginTrans(false); err != nil {
		h.rd.JSON(w, http.StatusInternalServerError, err.Error())
		return
	}
	v, err := fn(bt)
	if err != nil {
		status := http.StatusInternalServerError
		if btree.Code(err) == btree.CodeNotFound {
			status = http.StatusNotFound
		}
		h.rd.JSON(w, status, err.Error())
		return
	}
	h.rd.JSON(w, http.StatusOK, v)
}

func (h *statusHandler) Tables(w http.ResponseWriter, r *http.Request) {
	h.view(w, func(bt *btree.Btree) (interface{}, error) {
		infos, err := bt.Tables()
		if err != nil {
			return nil, err
		}
		tables := make([]tableEntry, 0, len(infos))
		for _, info := range infos {
			tables = append(tables, tableEntry{ID: info.ID, Kind: info.Kind.String(), Entries: info.Entries})
		}
		return tables, nil
	})
}

func (h *statusHandler) Table(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		h.rd.JSON(w, http.StatusBadRequest, err.Error())
		return
	}
	h.view(w, func(bt *btree.Btree) (interface{}, error) {
		infos, err := bt.Tables()
		if err != nil {
			return nil, err
		}
		for _, info := range infos {
			if info.ID == id {
				return tableEntry{ID: info.ID, Kind: info.Kind.String(), Entries: info.Entries}, nil
			}
		}
		return nil, &btree.Error{Code: btree.CodeNotFound, Op: "table " + strconv.Itoa(id)}
	})
}

func (h *statusHandler) Meta(w http.ResponseWriter, r *http.Request) {
	h.view(w, func(bt *btree.Btree) (interface{}, error) {
		entries := make([]metaEntry, 0, len(metaNames))
		for _, m := range metaNames {
			v, err := bt.GetMeta(m.slot)
			if err != nil {
				return nil, err
			}
			entries = append(entries, metaEntry{Slot: m.slot, Name: m.name, Value: v})
		}
		return entries, nil
	})
}

func createRouter(path string, conf *config.Config) *mux.Router {
	h := &statusHandler{
		path: path,
		conf: conf,
		rd:   render.New(render.Options{IndentJSON: true}),
	}
	router := mux.NewRouter()
	router.HandleFunc("/api/v1/tables", h.Tables).Methods("GET")
	router.HandleFunc("/api/v1/tables/{id}", h.Table).Methods("GET")
	router.HandleFunc("/api/v1/meta", h.Meta).Methods("GET")
	router.Handle("/metrics", promhttp.Handler())
	return router
}

func newServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve store status and metrics over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// keeps the shared database open between requests
			bt, err := openStore()
			if err != nil {
				return err
			}
			defer bt.Close()
			if err = bt.Commit(); err != nil {
				return err
			}
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			log.Info("serving store status", zap.String("addr", statusAddr), zap.String("path", bt.Path()))
			return http.ListenAndServe(statusAddr, createRouter(dbPath, conf))
		},
	}
	cmd.Flags().StringVar(&statusAddr, "addr", "127.0.0.1:20180", "status address")
	return cmd
}
