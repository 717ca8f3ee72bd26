package config

import (
	"os"
	"strconv"
	"strings"
)

// ApplyEnv overrides fields from RAG_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv("COURSEKB_DATA_DIR")); v != "" {
		c.DataDir = v
	}

	applyGateEnv(&c.Chunking.QA, "RAG_QA_CHUNK")
	applyGateEnv(&c.Chunking.LLM, "RAG_LLM_CHUNK")
	c.Chunking.LLMMaxInput = envInt("RAG_LLM_CHUNK_MAX_INPUT", c.Chunking.LLMMaxInput)

	c.Retrieve.RerankEnabled = envBool("RAG_RERANK_ENABLED", c.Retrieve.RerankEnabled)
	c.Retrieve.CandidateCap = envInt("RAG_RERANK_CANDIDATES", c.Retrieve.CandidateCap)
	c.Retrieve.BM25Enabled = envBool("RAG_BM25_ENABLED", c.Retrieve.BM25Enabled)
	c.Retrieve.WeightVector = envFloat("RAG_HYBRID_WEIGHT_VECTOR", c.Retrieve.WeightVector)
	c.Retrieve.WeightBM25 = envFloat("RAG_HYBRID_WEIGHT_BM25", c.Retrieve.WeightBM25)

	c.Knowledge.LLMMaxInput = envInt("RAG_LLM_KP_MAX_INPUT", c.Knowledge.LLMMaxInput)
}

func applyGateEnv(g *FeatureGate, prefix string) {
	g.Enabled = envBool(prefix+"_ENABLED", g.Enabled)
	if v, ok := envCSV(prefix + "_COURSES"); ok {
		g.Courses = v
	}
	if v, ok := envCSV(prefix + "_DISABLED_COURSES"); ok {
		g.DisabledCourses = v
	}
	if v, ok := envCSV(prefix + "_DOCTYPES"); ok {
		g.DocTypes = v
	}
	if v, ok := envCSV(prefix + "_DISABLED_DOCTYPES"); ok {
		g.DisabledDocTypes = v
	}
}

// envBool is false only for 0, false and no.
func envBool(name string, def bool) bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if v == "" {
		return def
	}
	switch v {
	case "0", "false", "no":
		return false
	default:
		return true
	}
}

func envInt(name string, def int) int {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envFloat(name string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envCSV(name string) ([]string, bool) {
	v, ok := os.LookupEnv(name)
	if !ok || strings.TrimSpace(v) == "" {
		return nil, false
	}
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out, true
}
