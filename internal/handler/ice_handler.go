package handler

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/weiawesome/wes-io-talk/internal/config"
	"github.com/weiawesome/wes-io-talk/pkg/response"
)

const fallbackSTUN = "stun:stun.l.google.com:19302"

// ICEServer is one entry of RTCConfiguration.iceServers.
type ICEServer struct {
	URLs       []string `json:"urls"`
	Username   string   `json:"username,omitempty"`
	Credential string   `json:"credential,omitempty"`
}

// ICEHandler serves the ICE servers clients use for peer-to-peer media.
type ICEHandler struct {
	servers []ICEServer
}

func NewICEHandler(cfg config.WebRTCConfig) *ICEHandler {
	var servers []ICEServer
	if len(cfg.STUNServers) > 0 {
		servers = append(servers, ICEServer{URLs: cfg.STUNServers})
	}
	if len(cfg.TURNServers) > 0 {
		servers = append(servers, ICEServer{
			URLs:       cfg.TURNServers,
			Username:   cfg.TURNUsername,
			Credential: cfg.TURNCredential,
		})
	}

	hasSTUN := false
	for _, s := range servers {
		for _, url := range s.URLs {
			if strings.HasPrefix(url, "stun:") {
				hasSTUN = true
			}
		}
	}
	if !hasSTUN {
		servers = append([]ICEServer{{URLs: []string{fallbackSTUN}}}, servers...)
	}

	return &ICEHandler{servers: servers}
}

func (h *ICEHandler) GetICEServers(c *gin.Context) {
	response.Success(c, gin.H{"iceServers": h.servers})
}

func (h *ICEHandler) RegisterRoutes(r *gin.Engine, authMiddleware gin.HandlerFunc) {
	r.GET("/api/ice-servers", authMiddleware, h.GetICEServers)
}
