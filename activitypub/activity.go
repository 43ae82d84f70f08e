package activitypub

import (
	"encoding/json"
	"fmt"
)

// Activity types accepted on an inbox.
const (
	TypeFollow   = "Follow"
	TypeUnFollow = "UnFollow"
	TypeCreate   = "Create"
	TypeUpdate   = "Update"
	TypeDelete   = "Delete"
	TypeSync     = "Sync"
)

// ApPublicKey is the nested key block of an actor profile.
type ApPublicKey struct {
	Id           string `json:"id,omitempty"`
	Owner        string `json:"owner,omitempty"`
	PublicKeyPem string `json:"publicKeyPem,omitempty"`
}

// ApActor is the wire form of an actor reference. A bare string id
// decodes into just the Id field.
type ApActor struct {
	Type      string       `json:"type,omitempty"`
	Id        string       `json:"id,omitempty"`
	Name      string       `json:"name,omitempty"`
	Purl      string       `json:"purl,omitempty"`
	Summary   string       `json:"summary,omitempty"`
	Inbox     string       `json:"inbox,omitempty"`
	Outbox    string       `json:"outbox,omitempty"`
	Following string       `json:"following,omitempty"`
	Followers string       `json:"followers,omitempty"`
	PublicKey *ApPublicKey `json:"publicKey,omitempty"`
}

func (a *ApActor) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*a = ApActor{Id: id}
		return nil
	}
	type plain ApActor
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = ApActor(p)
	return nil
}

// ApObject is the wire form of an activity payload object. Which fields
// are meaningful depends on Type.
type ApObject struct {
	Type          string `json:"type,omitempty"`
	Id            string `json:"id,omitempty"`
	Content       string `json:"content,omitempty"`
	ReplyTo       string `json:"reply_to,omitempty"`
	Headline      string `json:"headline,omitempty"`
	Repository    string `json:"repository,omitempty"`
	Review        string `json:"review,omitempty"`
	Vulnerability string `json:"vulnerability,omitempty"`
	Filepath      string `json:"filepath,omitempty"`
	Commit        string `json:"commit,omitempty"`
	Name          string `json:"name,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Activity is a parsed inbox envelope.
type Activity struct {
	Type   string
	Actor  ApActor
	Object json.RawMessage
	To     []string
	Id     string
}

// ObjectRef decodes the payload as an object. Follow and UnFollow carry an
// actor there instead, see ObjectActor.
func (a *Activity) ObjectRef() (*ApObject, error) {
	var obj ApObject
	if len(a.Object) > 0 && a.Object[0] == '"' {
		var id string
		if err := json.Unmarshal(a.Object, &id); err != nil {
			return nil, fmt.Errorf("%w: object id: %v", ErrProtocol, err)
		}
		return &ApObject{Id: id}, nil
	}
	if err := json.Unmarshal(a.Object, &obj); err != nil {
		return nil, fmt.Errorf("%w: object: %v", ErrProtocol, err)
	}
	return &obj, nil
}

// ObjectActor decodes the payload as an actor reference, the shape Follow
// and UnFollow use.
func (a *Activity) ObjectActor() (*ApActor, error) {
	var actor ApActor
	if err := json.Unmarshal(a.Object, &actor); err != nil {
		return nil, fmt.Errorf("%w: object actor: %v", ErrProtocol, err)
	}
	return &actor, nil
}

// ParseActivity validates an inbox envelope. The @context must match
// ApContext exactly and the type must be one of the six supported
// activities, anything else is a protocol error.
func ParseActivity(body []byte) (*Activity, error) {
	var envelope struct {
		Context json.RawMessage `json:"@context"`
		Type    string          `json:"type"`
		Actor   ApActor         `json:"actor"`
		Object  json.RawMessage `json:"object"`
		To      []string        `json:"to"`
		Id      string          `json:"id"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	var ctx []string
	if err := json.Unmarshal(envelope.Context, &ctx); err != nil {
		return nil, fmt.Errorf("%w: missing @context", ErrProtocol)
	}
	if len(ctx) != len(ApContext) {
		return nil, fmt.Errorf("%w: unexpected @context", ErrProtocol)
	}
	for i := range ctx {
		if ctx[i] != ApContext[i] {
			return nil, fmt.Errorf("%w: unexpected @context", ErrProtocol)
		}
	}
	switch envelope.Type {
	case TypeFollow, TypeUnFollow, TypeCreate, TypeUpdate, TypeDelete, TypeSync:
	default:
		return nil, fmt.Errorf("%w: unsupported activity type %q", ErrProtocol, envelope.Type)
	}
	if envelope.Actor.Id == "" {
		return nil, fmt.Errorf("%w: missing actor", ErrProtocol)
	}
	if len(envelope.Object) == 0 {
		return nil, fmt.Errorf("%w: missing object", ErrProtocol)
	}
	return &Activity{
		Type:   envelope.Type,
		Actor:  envelope.Actor,
		Object: envelope.Object,
		To:     envelope.To,
		Id:     envelope.Id,
	}, nil
}

// BuildActivity assembles an outbound envelope around an actor profile and
// an object rendering.
func BuildActivity(activityType string, actor, object map[string]any, to []string) map[string]any {
	return map[string]any{
		"@context": ApContext,
		"type":     activityType,
		"actor":    actor,
		"object":   object,
		"to":       to,
	}
}
