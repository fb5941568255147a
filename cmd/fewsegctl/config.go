package main

import (
	"encoding/json"
	"os"

	fewsegapi "fewseg/pkg/fewseg"
)

func loadEvaluateRequestFromConfig(path string) (fewsegapi.EvaluateRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return fewsegapi.EvaluateRequest{}, err
	}
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return fewsegapi.EvaluateRequest{}, err
	}

	var req fewsegapi.EvaluateRequest
	if v, ok := asString(raw["eval_id"]); ok {
		req.EvalID = v
	}
	if v, ok := asString(raw["source"]); ok {
		req.Source = v
	}
	if v, ok := asString(raw["strategy"]); ok {
		req.Strategy = v
	}
	if v, ok := asInt(raw["runs"]); ok {
		req.Runs = v
	}
	if v, ok := asInt(raw["episodes"]); ok {
		req.Episodes = v
	}
	if v, ok := asInt64(raw["seed"]); ok {
		req.Seed = v
	}
	if v, ok := asInt(raw["ignore_label"]); ok {
		req.IgnoreLabel = v
	}
	if task, ok := raw["task"].(map[string]any); ok {
		if v, ok := asInt(task["n_ways"]); ok {
			req.Ways = v
		}
		if v, ok := asInt(task["n_shots"]); ok {
			req.Shots = v
		}
		if v, ok := asInt(task["n_queries"]); ok {
			req.Queries = v
		}
	}
	if v, ok := asInt(raw["max_label"]); ok {
		req.MaxLabel = v
	}
	if v, ok := asInt(raw["image_size"]); ok {
		req.ImageSize = v
	}
	if v, ok := asInt(raw["embed_dim"]); ok {
		req.EmbedDim = v
	}
	if v, ok := asInt(raw["embed_stride"]); ok {
		req.EmbedStride = v
	}
	return req, nil
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asInt(v any) (int, bool) {
	switch x := v.(type) {
	case int:
		return x, true
	case float64:
		return int(x), true
	default:
		return 0, false
	}
}

func asInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	default:
		return 0, false
	}
}
