package main

import (
	"net/http"
)

// ServerInfo describes one control plane node of the server cluster.
type ServerInfo struct {
	NodeID    string  `json:"node_id"`
	Self      bool    `json:"self"`
	Backend   string  `json:"backend"`
	OwnedApps []int64 `json:"owned_apps,omitempty"`
	Endpoint  string  `json:"endpoint"`
}

// handleGetServers lists the server nodes this node knows about. Only the local
// node reports its owned applications; static ring peers are listed by address.
func (a *API) handleGetServers(w http.ResponseWriter, r *http.Request) {
	self := ServerInfo{
		NodeID:   a.config.AdvertiseAddr,
		Self:     true,
		Backend:  a.config.OwnershipBackend,
		Endpoint: a.config.AdvertiseAddr,
	}
	if a.ownership != nil {
		self.OwnedApps = a.ownership.Held()
	}

	servers := []ServerInfo{self}
	for _, node := range a.config.ClusterNodes {
		if node == a.config.AdvertiseAddr {
			continue
		}
		servers = append(servers, ServerInfo{
			NodeID:   node,
			Backend:  a.config.OwnershipBackend,
			Endpoint: node,
		})
	}
	writeJSON(w, http.StatusOK, servers)
}
