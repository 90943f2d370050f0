package dto

type HealthResponse struct {
	Status            string  `json:"status"`
	VectorBackend     string  `json:"vector_backend"`
	Metric            string  `json:"metric"`
	MetricMin         float64 `json:"metric_min"`
	MetricMax         float64 `json:"metric_max"`
	EmbeddingProvider string  `json:"embedding_provider"`
	LLMProvider       string  `json:"llm_provider"`
	LiveSessions      int     `json:"live_sessions"`
}
