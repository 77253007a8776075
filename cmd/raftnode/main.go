package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/mitchellh/mapstructure"

	"github.com/oceanraft/raftcore"
	"github.com/oceanraft/raftcore/config"
	"github.com/oceanraft/raftcore/corelog"
	"github.com/oceanraft/raftcore/node"
	"github.com/oceanraft/raftcore/scheduler"
	"github.com/oceanraft/raftcore/store"
	"github.com/oceanraft/raftcore/transport"
)

func main() {
	cfg := config.Load()
	selfId := raftcore.NodeId(cfg.NodeId)

	peers, err := cfg.ParsePeers(selfId)
	if err != nil {
		log.Fatal(err)
	}

	logger := log.New(os.Stderr, "raftcore["+cfg.NodeId+"]: ", log.LstdFlags)

	dir, err := transport.NewDirectory(cfg.NodeId, cfg.RPCPort, cfg.JoinAddress)
	if err != nil {
		log.Fatal(err)
	}
	connector := transport.NewConnector(dir, logger)

	n := node.NewNode(node.Config{
		Self:               raftcore.NodeEndpoint{Id: selfId, Host: cfg.Host, Port: cfg.RPCPort},
		Peers:              peers,
		Store:              store.NewFileStore(cfg.StorePath),
		Log:                corelog.NewMemoryLog(),
		Connector:          connector,
		Scheduler:          scheduler.NewRealScheduler(),
		Executor:           node.NewExecutor(),
		MembershipExecutor: node.NewExecutor(),
		Options:            cfg.Options(),
		Logger:             logger,
	})

	server := transport.NewServer(n.Deliver, logger)
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.RPCPort))
	if err != nil {
		log.Fatal(err)
	}
	go func() {
		if err := server.Serve(lis); err != nil {
			logger.Fatalf("grpc serve: %v", err)
		}
	}()

	n.Start()

	m := newAdminRouter(n)
	logger.Printf("admin HTTP surface on :%d", cfg.HTTPPort)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", cfg.HTTPPort), m); err != nil {
		logger.Fatal(err)
	}
}

// newAdminRouter wires an admin HTTP surface: gorilla/mux routes, JSON
// request bodies decoded into typed payloads via mapstructure.
func newAdminRouter(n node.Node) *mux.Router {
	m := mux.NewRouter()

	m.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		snap := n.RoleState()
		json.NewEncoder(w).Encode(map[string]interface{}{
			"role":       snap.Tag.String(),
			"term":       snap.Term,
			"votedFor":   snap.VotedFor,
			"leaderId":   snap.LeaderId,
			"votesCount": snap.VotesCount,
		})
	}).Methods("GET")

	m.HandleFunc("/log", func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var payload struct {
			Payload string `mapstructure:"payload"`
		}
		if err := mapstructure.Decode(raw, &payload); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		index, err := n.AppendLog([]byte(payload.Payload))
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		json.NewEncoder(w).Encode(map[string]uint64{"index": index})
	}).Methods("POST")

	m.HandleFunc("/members", func(w http.ResponseWriter, r *http.Request) {
		var raw map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req struct {
			Id   string `mapstructure:"id"`
			Host string `mapstructure:"host"`
			Port int    `mapstructure:"port"`
		}
		if err := mapstructure.Decode(raw, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		ref, err := n.AddNode(raftcore.NodeEndpoint{
			Id: raftcore.NodeId(req.Id), Host: req.Host, Port: req.Port,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		result, _ := ref.GetResult(30 * time.Second)
		json.NewEncoder(w).Encode(map[string]string{"result": result.String()})
	}).Methods("POST")

	m.HandleFunc("/members/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := raftcore.NodeId(mux.Vars(r)["id"])
		ref, err := n.RemoveNode(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		result, _ := ref.GetResult(30 * time.Second)
		json.NewEncoder(w).Encode(map[string]string{"result": result.String()})
	}).Methods("DELETE")

	return m
}
