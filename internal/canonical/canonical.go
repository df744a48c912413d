// Package canonical produces the deterministic byte serialization that is
// hashed and signed for every audit event.
package canonical

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/ILLUVRSE/auditchain/internal/model"
)

const tsLayout = "2006-01-02T15:04:05.000Z"

// Event returns the canonical bytes for a pre-chain event: identity, action,
// actor, target, group, descriptive, temporal, fields, previous_hash,
// project_id and environment_id. hash, signature and metadata are excluded
// from the signable surface.
func Event(ev *model.Event) ([]byte, error) {
	m := map[string]interface{}{
		"id":            nullable(ev.ID),
		"externalId":    nullable(ev.ExternalID),
		"action":        ev.Action,
		"crud":          string(ev.CRUD),
		"actorId":       nullable(ev.ActorID),
		"actorName":     nullable(ev.ActorName),
		"actorHref":     nullable(ev.ActorHref),
		"actorFields":   stringMap(ev.ActorFields),
		"targetId":      nullable(ev.TargetID),
		"targetName":    nullable(ev.TargetName),
		"targetHref":    nullable(ev.TargetHref),
		"targetType":    nullable(ev.TargetType),
		"targetFields":  stringMap(ev.TargetFields),
		"groupId":       nullable(ev.GroupID),
		"groupName":     nullable(ev.GroupName),
		"description":   nullable(ev.Description),
		"component":     nullable(ev.Component),
		"version":       nullable(ev.Version),
		"sourceIp":      nullable(ev.SourceIP),
		"isAnonymous":   ev.IsAnonymous,
		"isFailure":     ev.IsFailure,
		"fields":        genericMap(ev.Fields),
		"createdAt":     timestamp(ev.CreatedAt),
		"receivedAt":    timestamp(ev.ReceivedAt),
		"previousHash":  nullable(ev.PreviousHash),
		"projectId":     ev.ProjectID,
		"environmentId": ev.EnvironmentID,
	}
	return Marshal(m)
}

// nullable returns nil for an empty string so the canonical encoder emits an
// explicit `null` rather than omitting the key.
func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func timestamp(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(tsLayout)
}

func stringMap(m map[string]string) interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func genericMap(m map[string]interface{}) interface{} {
	if m == nil {
		return nil
	}
	return m
}

// Marshal returns deterministic JSON bytes for an arbitrary JSON-like value.
// Objects have their keys sorted lexicographically; arrays preserve order;
// every other value round-trips through encoding/json.
func Marshal(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encode(buf *bytes.Buffer, v interface{}) error {
	switch vv := v.(type) {
	case nil:
		buf.WriteString("null")
	case bool:
		if vv {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case json.Number:
		buf.WriteString(vv.String())
	case float64:
		if isNaNOrInf(vv) {
			return fmt.Errorf("canonical: unrepresentable number %v", vv)
		}
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case string:
		b, _ := json.Marshal(vv)
		buf.Write(b)
	case []interface{}:
		buf.WriteByte('[')
		for i, elem := range vv {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case map[string]interface{}:
		keys := make([]string, 0, len(vv))
		for k := range vv {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			kb, _ := json.Marshal(k)
			buf.Write(kb)
			buf.WriteByte(':')
			if err := encode(buf, vv[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		// Fallback for types we don't special-case (e.g. structs): marshal
		// then re-decode into interface{} with UseNumber and encode recursively.
		b, err := json.Marshal(vv)
		if err != nil {
			return fmt.Errorf("canonical marshal fallback: %w", err)
		}
		var tmp interface{}
		dec := json.NewDecoder(bytes.NewReader(b))
		dec.UseNumber()
		if err := dec.Decode(&tmp); err != nil {
			return fmt.Errorf("canonical decode fallback: %w", err)
		}
		return encode(buf, tmp)
	}
	return nil
}

func isNaNOrInf(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}
