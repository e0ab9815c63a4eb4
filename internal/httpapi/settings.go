package httpapi

import "net/http"

type settingsResponse struct {
	Generator           string   `json:"generator"`
	StoreMode           string   `json:"store_mode"`
	ContextHistoryLimit int      `json:"context_history_limit"`
	GenerationTimeoutMS int64    `json:"generation_timeout_ms"`
	MaxTokens           int      `json:"max_tokens"`
	Temperature         float64  `json:"temperature"`
	ArchiveEnabled      bool     `json:"archive_enabled"`
	AllowedOrigins      []string `json:"allowed_origins"`
}

func (s *Server) handleSettings(w http.ResponseWriter, _ *http.Request) {
	origins := s.cfg.AllowedOrigins
	if s.cfg.AllowAnyOrigin {
		origins = []string{"*"}
	}
	if origins == nil {
		origins = []string{}
	}
	respondJSON(w, http.StatusOK, settingsResponse{
		Generator:           s.deps.Generator,
		StoreMode:           s.storeMode(),
		ContextHistoryLimit: s.cfg.ContextHistoryLimit,
		GenerationTimeoutMS: s.cfg.GenerationTimeout.Milliseconds(),
		MaxTokens:           s.cfg.GenerationMaxTokens,
		Temperature:         s.cfg.GenerationTemperature,
		ArchiveEnabled:      s.deps.Exporter != nil,
		AllowedOrigins:      origins,
	})
}
