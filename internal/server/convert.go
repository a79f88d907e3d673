package server

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/tagstore/pkg/resolve"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/search"
	"github.com/nainya/tagstore/pkg/tags"
)

// request reads typed fields out of a Struct. The first type error is kept
// in err and reported by done.
type request struct {
	fields map[string]*structpb.Value
	err    error
}

func newRequest(in *structpb.Struct) *request {
	return &request{fields: in.GetFields()}
}

func (r *request) fail(key, want string) {
	if r.err == nil {
		r.err = status.Errorf(codes.InvalidArgument, "field %s must be %s", key, want)
	}
}

func (r *request) str(key string) string {
	v, ok := r.fields[key]
	if !ok {
		return ""
	}
	s, ok := v.GetKind().(*structpb.Value_StringValue)
	if !ok {
		r.fail(key, "a string")
		return ""
	}
	return s.StringValue
}

func (r *request) required(key string) string {
	s := r.str(key)
	if s == "" && r.err == nil {
		r.err = status.Errorf(codes.InvalidArgument, "%s is required", key)
	}
	return s
}

func (r *request) boolean(key string, def bool) bool {
	v, ok := r.fields[key]
	if !ok {
		return def
	}
	b, ok := v.GetKind().(*structpb.Value_BoolValue)
	if !ok {
		r.fail(key, "a bool")
		return def
	}
	return b.BoolValue
}

// number returns nil when key is absent.
func (r *request) number(key string) *int {
	v, ok := r.fields[key]
	if !ok {
		return nil
	}
	n, ok := v.GetKind().(*structpb.Value_NumberValue)
	if !ok || n.NumberValue != float64(int(n.NumberValue)) {
		r.fail(key, "an integer")
		return nil
	}
	i := int(n.NumberValue)
	return &i
}

func (r *request) strs(key string) []string {
	v, ok := r.fields[key]
	if !ok {
		return nil
	}
	list, ok := v.GetKind().(*structpb.Value_ListValue)
	if !ok {
		r.fail(key, "a list of strings")
		return nil
	}
	out := make([]string, 0, len(list.ListValue.GetValues()))
	for _, item := range list.ListValue.GetValues() {
		s, ok := item.GetKind().(*structpb.Value_StringValue)
		if !ok {
			r.fail(key, "a list of strings")
			return nil
		}
		out = append(out, s.StringValue)
	}
	return out
}

func (r *request) time(key string) time.Time {
	s := r.str(key)
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		r.fail(key, "an RFC 3339 timestamp")
	}
	return t
}

func (r *request) done() error { return r.err }

// toStruct renders v through its JSON form.
func toStruct(v interface{}) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	m := make(map[string]interface{})
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

// toStatus maps domain errors to gRPC codes. Hints are appended to the message.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	code := codes.Internal
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, tags.ErrValidation),
		errors.Is(err, tags.ErrUnknownDepartment),
		errors.Is(err, search.ErrInvalidOptions):
		code = codes.InvalidArgument
	case errors.Is(err, resolve.ErrAmbiguous):
		code = codes.FailedPrecondition
	case errors.Is(err, scene.ErrNotFound):
		code = codes.NotFound
	}

	msg := err.Error()
	if hints := errors.GetAllHints(err); len(hints) > 0 {
		msg += " (" + strings.Join(hints, "; ") + ")"
	}
	return status.Error(code, msg)
}
