// Integration tests for the tagstore gRPC server
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/reflection"
	reflectionpb "google.golang.org/grpc/reflection/grpc_reflection_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/nainya/tagstore/internal/logger"
	"github.com/nainya/tagstore/internal/metrics"
	"github.com/nainya/tagstore/pkg/scene"
	"github.com/nainya/tagstore/pkg/tags"
)

const bufSize = 1024 * 1024

type testEnv struct {
	server  *Server
	conn    *grpc.ClientConn
	client  *Client
	scene   *scene.Memory
	metrics *metrics.Metrics
}

func setupTestServer(t *testing.T, opts Options) *testEnv {
	t.Helper()
	m, err := scene.NewMemory(
		scene.Object{Name: "rig_grp", Type: "transform", Selected: true},
		scene.Object{Name: "body_geo", Type: "mesh", Parent: "rig_grp", Attributes: []scene.Attribute{
			{Name: "rigHookup", Type: "bool", Value: true},
			{Name: "removeAtPublish", Type: "bool", Value: false},
			{Name: "shared", Type: "string", Value: "x"},
		}},
		scene.Object{Name: "arm_ctrl", Type: "transform", Parent: "rig_grp", Attributes: []scene.Attribute{
			{Name: "owningModuleID", Type: "long", Value: 4},
		}},
	)
	if err != nil {
		t.Fatalf("Failed to build scene: %v", err)
	}

	met := metrics.NewMetrics()
	opts.Scene = m
	opts.Metrics = met
	if opts.User == "" {
		opts.User = "rigger"
	}
	srv, err := NewServer(context.Background(), opts)
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}

	lis := bufconn.Listen(bufSize)
	gs := NewGRPCServer(srv, met, logger.Nop(), nil)
	reflection.Register(gs)
	go func() {
		_ = gs.Serve(lis)
	}()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(context.Context, string) (net.Conn, error) { return lis.Dial() }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("Failed to dial bufnet: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		gs.Stop()
		lis.Close()
		srv.Close()
	})
	return &testEnv{server: srv, conn: conn, client: NewClient(conn), scene: m, metrics: met}
}

func ambiguousRegistry(t *testing.T) *tags.Registry {
	t.Helper()
	alpha, err := tags.NewCatalog("alpha", tags.Definition{Name: "shared", Association: "A", Description: "from alpha"})
	if err != nil {
		t.Fatal(err)
	}
	beta, err := tags.NewCatalog("beta", tags.Definition{Name: "shared", Association: "B", Description: "from beta"})
	if err != nil {
		t.Fatal(err)
	}
	reg, err := tags.NewRegistry(alpha, beta)
	if err != nil {
		t.Fatal(err)
	}
	return reg
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Errorf("Expected %s, got %s (%v)", want, got, err)
	}
}

func TestSearch(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()

	resp, err := env.client.Search(ctx, map[string]interface{}{
		"terms": []interface{}{"rigHookup", "owningModuleID"},
	})
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	out := resp.AsMap()
	if out["object_count"] != 2.0 || out["attribute_count"] != 2.0 {
		t.Fatalf("Unexpected counts: %v", out)
	}
	objects := out["objects"].([]interface{})
	body := objects[0].(map[string]interface{})
	if body["name"] != "body_geo" {
		t.Errorf("Expected body_geo first, got %v", body["name"])
	}
	attr := body["attributes"].([]interface{})[0].(map[string]interface{})
	if attr["association"] != "MR3" || attr["value"] != "true" {
		t.Errorf("Unexpected attribute record: %v", attr)
	}
}

func TestSearchRejectsHierarchyWithoutSelection(t *testing.T) {
	env := setupTestServer(t, Options{})
	_, err := env.client.Search(context.Background(), map[string]interface{}{"include_hierarchy": true})
	assertCode(t, err, codes.InvalidArgument)
}

func TestSearchRejectsBadFieldType(t *testing.T) {
	env := setupTestServer(t, Options{})
	_, err := env.client.Search(context.Background(), map[string]interface{}{"terms": "rigHookup"})
	assertCode(t, err, codes.InvalidArgument)
}

func TestSearchCache(t *testing.T) {
	env := setupTestServer(t, Options{CacheTTL: time.Minute})
	ctx := context.Background()
	req := map[string]interface{}{"terms": []interface{}{"rigHookup"}}

	cached := func() bool {
		t.Helper()
		resp, err := env.client.Search(ctx, req)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		return resp.AsMap()["cached"].(bool)
	}

	if cached() {
		t.Error("First search should walk the scene")
	}
	if !cached() {
		t.Error("Second search should come from the cache")
	}
	if _, err := env.client.ApplyTag(ctx, "body_geo", "rigHookup"); err != nil {
		t.Fatalf("ApplyTag failed: %v", err)
	}
	if cached() {
		t.Error("Attribute changes should invalidate the cache")
	}
}

// writeDuringList changes an attribute behind the server's back the next
// time objects are listed after arm.
type writeDuringList struct {
	*scene.Memory
	armed atomic.Bool
}

func (w *writeDuringList) ListObjects(ctx context.Context, q scene.ObjectQuery) ([]string, error) {
	if w.armed.CompareAndSwap(true, false) {
		_ = w.Memory.SetAttribute(ctx, "body_geo", "removeAtPublish", true, false)
	}
	return w.Memory.ListObjects(ctx, q)
}

func TestSearchCacheSkipsResultsRacedByWrites(t *testing.T) {
	m, err := scene.NewMemory(scene.Object{Name: "body_geo", Type: "mesh", Attributes: []scene.Attribute{
		{Name: "rigHookup", Type: "bool", Value: true},
		{Name: "removeAtPublish", Type: "bool", Value: false},
	}})
	if err != nil {
		t.Fatalf("Failed to build scene: %v", err)
	}
	sc := &writeDuringList{Memory: m}
	srv, err := NewServer(context.Background(), Options{Scene: sc, CacheTTL: time.Minute})
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	defer srv.Close()
	sc.armed.Store(true)

	req, err := structpb.NewStruct(map[string]interface{}{"terms": []interface{}{"rigHookup"}})
	if err != nil {
		t.Fatal(err)
	}
	run := func() bool {
		t.Helper()
		resp, err := srv.Search(context.Background(), req)
		if err != nil {
			t.Fatalf("Search failed: %v", err)
		}
		return resp.AsMap()["cached"].(bool)
	}

	if run() {
		t.Error("First search should walk the scene")
	}
	if run() {
		t.Error("A result computed across a scene change must not be cached")
	}
	if !run() {
		t.Error("An undisturbed result should be cached")
	}
}

func TestMetadataLifecycle(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()

	resp, err := env.client.ReadMetadata(ctx, "body_geo")
	if err != nil {
		t.Fatalf("ReadMetadata failed: %v", err)
	}
	if resp.AsMap()["present"] != false {
		t.Errorf("Expected no record, got %v", resp.AsMap())
	}

	resp, err = env.client.ApplyTag(ctx, "body_geo", "rigHookup")
	if err != nil {
		t.Fatalf("ApplyTag failed: %v", err)
	}
	p := resp.AsMap()["provenance"].(map[string]interface{})
	if p["User"] != "rigger" || p["Association"] != "MR3" {
		t.Errorf("Unexpected provenance: %v", p)
	}

	resp, _ = env.client.ReadMetadata(ctx, "body_geo")
	rec := resp.AsMap()["record"].(map[string]interface{})
	if _, ok := rec["rigHookup"]; !ok {
		t.Errorf("Expected rigHookup in record, got %v", rec)
	}
	if locked, _ := env.scene.IsLocked("body_geo", tags.MetadataAttr); !locked {
		t.Error("Record should be locked after apply")
	}

	if _, err := env.client.Call(ctx, MethodRemoveTag, map[string]interface{}{"object": "body_geo", "tag": "rigHookup"}); err != nil {
		t.Fatalf("RemoveTag failed: %v", err)
	}
	resp, _ = env.client.ReadMetadata(ctx, "body_geo")
	if rec := resp.AsMap()["record"].(map[string]interface{}); len(rec) != 0 {
		t.Errorf("Expected empty record, got %v", rec)
	}

	if _, err := env.client.Call(ctx, MethodDeleteMetadata, map[string]interface{}{"object": "body_geo"}); err != nil {
		t.Fatalf("DeleteMetadata failed: %v", err)
	}
	resp, _ = env.client.ReadMetadata(ctx, "body_geo")
	if resp.AsMap()["present"] != false {
		t.Error("Record should be gone after delete")
	}
}

func TestApplyAllKnownTagsAndFindProvenance(t *testing.T) {
	env := setupTestServer(t, Options{Departments: []string{tags.DepartmentRig}})
	ctx := context.Background()

	resp, err := env.client.Call(ctx, MethodApplyAllKnownTags, map[string]interface{}{"object": "body_geo"})
	if err != nil {
		t.Fatalf("ApplyAllKnownTags failed: %v", err)
	}
	applied := resp.AsMap()["applied"].([]interface{})
	if len(applied) != 2 {
		t.Errorf("Expected 2 applied tags, got %v", applied)
	}
	if _, err := env.client.Call(ctx, MethodCreateMetadata, map[string]interface{}{"object": "arm_ctrl"}); err != nil {
		t.Fatalf("CreateMetadata failed: %v", err)
	}

	resp, err = env.client.Call(ctx, MethodFindProvenance, map[string]interface{}{"association": "Staging"})
	if err != nil {
		t.Fatalf("FindProvenance failed: %v", err)
	}
	out := resp.AsMap()
	objects := out["objects"].([]interface{})
	if len(objects) != 1 || objects[0] != "body_geo" {
		t.Errorf("Expected body_geo, got %v", objects)
	}
	row := out["rows"].([]interface{})[0].(map[string]interface{})
	if row["tag"] != "removeAtPublish" || row["User"] != "rigger" {
		t.Errorf("Unexpected row: %v", row)
	}

	_, err = env.client.Call(ctx, MethodFindProvenance, map[string]interface{}{"since": "yesterday"})
	assertCode(t, err, codes.InvalidArgument)
}

func TestErrorCodes(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx := context.Background()

	_, err := env.client.ReadMetadata(ctx, "ghost")
	assertCode(t, err, codes.NotFound)

	_, err = env.client.Call(ctx, MethodApplyTag, map[string]interface{}{"object": "body_geo"})
	assertCode(t, err, codes.InvalidArgument)

	_, err = env.client.Call(ctx, MethodListTags, map[string]interface{}{"departments": []interface{}{"lighting"}})
	assertCode(t, err, codes.InvalidArgument)
	if err != nil && !strings.Contains(err.Error(), "known departments") {
		t.Errorf("Expected hint in message, got %v", err)
	}
}

func TestAmbiguity(t *testing.T) {
	env := setupTestServer(t, Options{Registry: ambiguousRegistry(t)})
	ctx := context.Background()

	_, err := env.client.Call(ctx, MethodResolveTag, map[string]interface{}{"tag": "shared"})
	assertCode(t, err, codes.FailedPrecondition)

	resp, err := env.client.Call(ctx, MethodResolveTag, map[string]interface{}{"tag": "shared", "force_choice": 1})
	if err != nil {
		t.Fatalf("Forced resolve failed: %v", err)
	}
	if out := resp.AsMap(); out["association"] != "B" || out["description"] != "from beta" {
		t.Errorf("Unexpected resolution: %v", out)
	}

	_, err = env.client.ApplyTag(ctx, "body_geo", "shared")
	assertCode(t, err, codes.FailedPrecondition)
	if rec, _ := env.server.store.Read(ctx, "body_geo"); len(rec) != 0 {
		t.Errorf("Failed apply must not write, got %v", rec)
	}
}

func TestListTags(t *testing.T) {
	env := setupTestServer(t, Options{})
	resp, err := env.client.Call(context.Background(), MethodListTags, map[string]interface{}{
		"departments": []interface{}{"rig"},
	})
	if err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}
	catalogs := resp.AsMap()["catalogs"].([]interface{})
	rig := catalogs[0].(map[string]interface{})
	if rig["department"] != "rig" || len(rig["tags"].([]interface{})) != 8 {
		t.Errorf("Unexpected rig catalog: %v", rig)
	}
}

func TestRequestID(t *testing.T) {
	env := setupTestServer(t, Options{})

	var header metadata.MD
	ctx := metadata.AppendToOutgoingContext(context.Background(), RequestIDHeader, "req-42")
	if _, err := env.client.Call(ctx, MethodListTags, nil, grpc.Header(&header)); err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}
	if got := header.Get(RequestIDHeader); len(got) != 1 || got[0] != "req-42" {
		t.Errorf("Expected echoed request id, got %v", got)
	}

	header = nil
	if _, err := env.client.Call(context.Background(), MethodListTags, nil, grpc.Header(&header)); err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}
	if got := header.Get(RequestIDHeader); len(got) != 1 || len(got[0]) != 36 {
		t.Errorf("Expected generated uuid, got %v", got)
	}
}

func TestObservabilityEndpoints(t *testing.T) {
	env := setupTestServer(t, Options{})
	if _, err := env.client.Call(context.Background(), MethodListTags, nil); err != nil {
		t.Fatalf("ListTags failed: %v", err)
	}

	ready := false
	obs := NewObservabilityServer(0, env.metrics.Registry(), func() bool { return ready }, logger.Nop())
	ts := httptest.NewServer(obs.Handler())
	defer ts.Close()

	get := func(path string) (int, string) {
		t.Helper()
		res, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(body)
	}

	if code, body := get("/health"); code != http.StatusOK || !strings.Contains(body, "tagstore") {
		t.Errorf("/health = %d %s", code, body)
	}
	if code, _ := get("/ready"); code != http.StatusServiceUnavailable {
		t.Errorf("/ready before ready = %d", code)
	}
	ready = true
	if code, _ := get("/ready"); code != http.StatusOK {
		t.Errorf("/ready = %d", code)
	}
	if _, body := get("/metrics"); !strings.Contains(body, `tagstore_grpc_requests_total{code="OK",method="/tagstore.v1.TagService/ListTags"} 1`) {
		t.Errorf("Expected request counter in /metrics output")
	}
}

func TestReflectionServesDescriptor(t *testing.T) {
	env := setupTestServer(t, Options{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := reflectionpb.NewServerReflectionClient(env.conn).ServerReflectionInfo(ctx)
	if err != nil {
		t.Fatalf("Failed to open reflection stream: %v", err)
	}
	defer stream.CloseSend()

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_ListServices{},
	}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err := stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	found := false
	for _, svc := range resp.GetListServicesResponse().GetService() {
		found = found || svc.GetName() == ServiceName
	}
	if !found {
		t.Fatalf("%s not listed: %v", ServiceName, resp)
	}

	if err := stream.Send(&reflectionpb.ServerReflectionRequest{
		MessageRequest: &reflectionpb.ServerReflectionRequest_FileContainingSymbol{FileContainingSymbol: ServiceName},
	}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	resp, err = stream.Recv()
	if err != nil {
		t.Fatalf("Recv failed: %v", err)
	}
	if e := resp.GetErrorResponse(); e != nil {
		t.Fatalf("Symbol lookup failed: %s", e.GetErrorMessage())
	}
	files := resp.GetFileDescriptorResponse().GetFileDescriptorProto()
	if len(files) == 0 {
		t.Fatal("Expected a file descriptor")
	}
	var fdp descriptorpb.FileDescriptorProto
	if err := proto.Unmarshal(files[0], &fdp); err != nil {
		t.Fatalf("Failed to decode descriptor: %v", err)
	}
	if fdp.GetName() != ProtoFile || len(fdp.GetService()) != 1 {
		t.Fatalf("Unexpected descriptor %s with %d services", fdp.GetName(), len(fdp.GetService()))
	}
	got := fdp.GetService()[0].GetMethod()
	if len(got) != len(ServiceDesc.Methods) {
		t.Fatalf("Expected %d methods, got %d", len(ServiceDesc.Methods), len(got))
	}
	for i, m := range got {
		if m.GetName() != ServiceDesc.Methods[i].MethodName || m.GetInputType() != ".google.protobuf.Struct" {
			t.Errorf("Method %d: %s(%s)", i, m.GetName(), m.GetInputType())
		}
	}
}
