package command

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "submission",
			Action:       "create",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions",
			Fields: []Field{
				{Name: "contest_id", Prompt: "contest_id", Type: FieldInt64, Required: true},
				{Name: "problem_id", Prompt: "problem_id", Type: FieldInt64, Required: true},
				{Name: "member_id", Prompt: "member_id", Type: FieldInt64, Required: true},
				{Name: "language_id", Prompt: "language_id", Type: FieldString, Required: true},
				{Name: "source_code", Prompt: "source_code", Type: FieldString, Required: true},
				{Name: "source_file", Prompt: "source_file", Type: FieldFile, Required: false},
			},
		},
		{
			Service:      "submission",
			Action:       "get",
			Method:       "GET",
			PathTemplate: "/api/v1/submissions/:id",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "submission",
			Action:       "rerun",
			Method:       "POST",
			PathTemplate: "/api/v1/submissions/:id/rerun",
			Fields: []Field{
				{Name: "id", Prompt: "submission_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "leaderboard",
			Method:       "GET",
			PathTemplate: "/api/v1/contests/:id/leaderboard",
			Fields: []Field{
				{Name: "id", Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "freeze",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/:id/freeze",
			Fields: []Field{
				{Name: "id", Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "unfreeze",
			Method:       "POST",
			PathTemplate: "/api/v1/contests/:id/unfreeze",
			Fields: []Field{
				{Name: "id", Prompt: "contest_id", Type: FieldInt64, Required: true},
			},
		},
		{
			Service:      "contest",
			Action:       "autojudge",
			Method:       "PUT",
			PathTemplate: "/api/v1/contests/:id/autojudge",
			Fields: []Field{
				{Name: "id", Prompt: "contest_id", Type: FieldInt64, Required: true},
				{Name: "enabled", Prompt: "enabled (true/false)", Type: FieldBool, Required: true},
			},
		},
	}

	result := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		key := fmt.Sprintf("%s %s", cmd.Service, cmd.Action)
		result[key] = cmd
	}
	return result
}

// BuildRequest creates HTTP request spec based on command.
func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	var body []byte
	if cmd.Method != "GET" && cmd.Method != "DELETE" {
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: map[string]string{},
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	path := template
	if strings.Contains(path, ":id") {
		value := params.Get("id")
		if value == "" {
			return "", fmt.Errorf("missing path parameter: id")
		}
		path = strings.ReplaceAll(path, ":id", value)
	}
	return path, nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	switch cmd.Service {
	case "submission":
		if cmd.Action == "create" {
			return buildSubmissionCreatePayload(params)
		}
	case "contest":
		if cmd.Action == "autojudge" {
			enabled, err := ParseBool(params.Get("enabled"))
			if err != nil {
				return nil, fmt.Errorf("invalid enabled: %w", err)
			}
			return map[string]interface{}{
				"enabled": enabled,
			}, nil
		}
	}
	return nil, nil
}

func buildSubmissionCreatePayload(params Params) (interface{}, error) {
	contestID, err := ParseInt64(params.Get("contest_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid contest_id: %w", err)
	}
	problemID, err := ParseInt64(params.Get("problem_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid problem_id: %w", err)
	}
	memberID, err := ParseInt64(params.Get("member_id"))
	if err != nil {
		return nil, fmt.Errorf("invalid member_id: %w", err)
	}

	sourceCode := params.Get("source_code")
	if (sourceCode == "" || sourceCode == "_file_") && params.Get("source_file") != "" {
		sourceCode, err = ReadFile(params.Get("source_file"))
		if err != nil {
			return nil, err
		}
	}
	if sourceCode == "" {
		return nil, fmt.Errorf("source_code is required")
	}

	return map[string]interface{}{
		"contest_id":  contestID,
		"problem_id":  problemID,
		"member_id":   memberID,
		"language_id": params.Get("language_id"),
		"source_code": sourceCode,
	}, nil
}
