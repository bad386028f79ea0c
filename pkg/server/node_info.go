package server

import (
	"net/http"
	"runtime"
	"time"

	"github.com/labstack/echo/v4"

	"kmesh/pkg/models"
)

// NodeInfo describes this node and the state of its mesh components.
type NodeInfo struct {
	Node          models.PeerID        `json:"node"`
	Version       string               `json:"version"`
	Transport     models.TransportKind `json:"transport,omitempty"`
	Uptime        string               `json:"uptime"`
	UptimeSeconds int64                `json:"uptime_seconds"`
	Peers         PeerCounts           `json:"peers"`
	Backends      []models.BackendKind `json:"backends"`
	CacheEntries  int                  `json:"cache_entries"`
	MeshPaths     []string             `json:"mesh_paths"`
	Runtime       RuntimeInfo          `json:"runtime"`
}

// PeerCounts summarizes the roster.
type PeerCounts struct {
	Total  int `json:"total"`
	Online int `json:"online"`
}

// RuntimeInfo reports process resource usage.
type RuntimeInfo struct {
	Goroutines int    `json:"goroutines"`
	HeapAlloc  uint64 `json:"heap_alloc"`
	HeapSys    uint64 `json:"heap_sys"`
}

// getNodeInfo handles GET /status/node.
func (s *Server) getNodeInfo(c echo.Context) error {
	return c.JSON(http.StatusOK, s.collectNodeInfo())
}

func (s *Server) collectNodeInfo() NodeInfo {
	uptime := time.Since(s.started)

	info := NodeInfo{
		Node:          s.opts.Node,
		Version:       s.opts.Version,
		Transport:     s.opts.Transport,
		Uptime:        uptime.Truncate(time.Second).String(),
		UptimeSeconds: int64(uptime.Seconds()),
		Backends:      append([]models.BackendKind{}, s.opts.Backends...),
		MeshPaths:     s.opts.Dispatcher.Paths(),
	}

	if s.opts.Monitor != nil {
		roster := s.opts.Monitor.Roster()
		info.Peers.Total = len(roster)
		for _, peer := range roster {
			if record, ok := s.opts.Monitor.Record(peer); ok && record.Online() {
				info.Peers.Online++
			}
		}
	}
	if s.opts.Cache != nil {
		info.CacheEntries = s.opts.Cache.Len()
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	info.Runtime = RuntimeInfo{
		Goroutines: runtime.NumGoroutine(),
		HeapAlloc:  mem.HeapAlloc,
		HeapSys:    mem.HeapSys,
	}
	return info
}
