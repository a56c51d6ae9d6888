package knowledge

import (
	"encoding/json"
	"fmt"
)

// parseThread / parseResource / parseContextSet accept either the bare
// object or a {thread:...}/{resource:...}/{data:...}/{node:...} wrapper,
// tolerating whichever shape the matched attempt descriptor returned.

func parseThread(body []byte) (Thread, error) {
	var direct Thread
	if json.Unmarshal(body, &direct) == nil && direct.ID != "" {
		return direct, nil
	}

	var wrapped struct {
		Thread *Thread `json:"thread"`
		Data   *Thread `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return Thread{}, fmt.Errorf("decoding thread: %w", err)
	}
	if wrapped.Thread != nil {
		return *wrapped.Thread, nil
	}
	if wrapped.Data != nil {
		return *wrapped.Data, nil
	}
	return Thread{}, fmt.Errorf("decoding thread: unrecognized shape")
}

func parseThreadList(body []byte) ([]Thread, error) {
	var direct []Thread
	if json.Unmarshal(body, &direct) == nil && direct != nil {
		return direct, nil
	}

	var wrapped struct {
		Threads []Thread `json:"threads"`
		Items   []Thread `json:"items"`
		Data    []Thread `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding thread list: %w", err)
	}
	switch {
	case wrapped.Threads != nil:
		return wrapped.Threads, nil
	case wrapped.Items != nil:
		return wrapped.Items, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	default:
		return nil, nil
	}
}

func parseContextSet(body []byte) (ContextSet, error) {
	var direct ContextSet
	if json.Unmarshal(body, &direct) == nil && direct.ID != "" {
		return direct, nil
	}

	var wrapped struct {
		ContextSet *ContextSet `json:"context_set"`
		Data       *ContextSet `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return ContextSet{}, fmt.Errorf("decoding context set: %w", err)
	}
	if wrapped.ContextSet != nil {
		return *wrapped.ContextSet, nil
	}
	if wrapped.Data != nil {
		return *wrapped.Data, nil
	}
	return ContextSet{}, fmt.Errorf("decoding context set: unrecognized shape")
}

func parseContextSetList(body []byte) ([]ContextSet, error) {
	var direct []ContextSet
	if json.Unmarshal(body, &direct) == nil && direct != nil {
		return direct, nil
	}

	var wrapped struct {
		ContextSets []ContextSet `json:"context_sets"`
		Items       []ContextSet `json:"items"`
		Data        []ContextSet `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding context set list: %w", err)
	}
	switch {
	case wrapped.ContextSets != nil:
		return wrapped.ContextSets, nil
	case wrapped.Items != nil:
		return wrapped.Items, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	default:
		return nil, nil
	}
}

func parseResource(body []byte) (Resource, error) {
	var direct Resource
	if json.Unmarshal(body, &direct) == nil && direct.ID != "" {
		return direct, nil
	}

	var wrapped struct {
		Resource *Resource `json:"resource"`
		Node     *Resource `json:"node"`
		Data     *Resource `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return Resource{}, fmt.Errorf("decoding resource: %w", err)
	}
	if wrapped.Resource != nil {
		return *wrapped.Resource, nil
	}
	if wrapped.Node != nil {
		return *wrapped.Node, nil
	}
	if wrapped.Data != nil {
		return *wrapped.Data, nil
	}
	return Resource{}, fmt.Errorf("decoding resource: unrecognized shape")
}

func parseResourceList(body []byte) ([]Resource, error) {
	var direct []Resource
	if json.Unmarshal(body, &direct) == nil && direct != nil {
		return direct, nil
	}

	var wrapped struct {
		Resources []Resource `json:"resources"`
		Nodes     []Resource `json:"nodes"`
		Items     []Resource `json:"items"`
		Data      []Resource `json:"data"`
	}
	if err := json.Unmarshal(body, &wrapped); err != nil {
		return nil, fmt.Errorf("decoding resource list: %w", err)
	}
	switch {
	case wrapped.Resources != nil:
		return wrapped.Resources, nil
	case wrapped.Nodes != nil:
		return wrapped.Nodes, nil
	case wrapped.Items != nil:
		return wrapped.Items, nil
	case wrapped.Data != nil:
		return wrapped.Data, nil
	default:
		return nil, nil
	}
}
