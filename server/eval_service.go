package server

import (
	"context"
	"errors"
	"fmt"

	"connectrpc.com/connect"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/chazu/luau/chunk"
	"github.com/chazu/luau/compiler"
	"github.com/chazu/luau/vm"
)

// Procedure names. Messages are google.protobuf.Struct values, so any
// Connect, gRPC or gRPC-Web client can talk to the service without
// generated stubs.
const (
	EvalServiceName = "luau.v1.EvalService"

	EvaluateProcedure       = "/" + EvalServiceName + "/Evaluate"
	CallProcedure           = "/" + EvalServiceName + "/Call"
	ReleaseProcedure        = "/" + EvalServiceName + "/Release"
	CheckSyntaxProcedure    = "/" + EvalServiceName + "/CheckSyntax"
	CreateSessionProcedure  = "/" + EvalServiceName + "/CreateSession"
	DestroySessionProcedure = "/" + EvalServiceName + "/DestroySession"
)

// EvalRequest asks for source to be compiled and run. Args are passed to
// the chunk as strings.
type EvalRequest struct {
	Source    string
	ChunkName string
	Args      []string
	Session   string
}

// EvalResult describes one returned value. Collectible values get a
// handle; inline values are fully described by Display.
type EvalResult struct {
	Kind    string
	Display string
	Handle  string
}

// EvalResponse is the outcome of an evaluation. Script failures are
// reported here rather than as RPC errors.
type EvalResponse struct {
	Success     bool
	Results     []EvalResult
	Error       string
	ErrorKind   string
	Diagnostics []compiler.Diagnostic
}

// EvalService compiles and runs Luau source on the worker's VM.
type EvalService struct {
	worker   *VMWorker
	handles  *HandleStore
	sessions *SessionStore
	options  compiler.Options
	cache    *chunk.Store
}

// NewEvalService creates an EvalService. cache may be nil.
func NewEvalService(worker *VMWorker, handles *HandleStore, sessions *SessionStore, opts compiler.Options, cache *chunk.Store) *EvalService {
	return &EvalService{
		worker:   worker,
		handles:  handles,
		sessions: sessions,
		options:  opts,
		cache:    cache,
	}
}

// Evaluate compiles and executes source.
func (s *EvalService) Evaluate(ctx context.Context, req EvalRequest) (*EvalResponse, error) {
	if req.Source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	session, err := s.session(req.Session)
	if err != nil {
		return nil, err
	}
	name := req.ChunkName
	if name == "" {
		name = "=eval"
	}

	c, err := s.compile(ctx, name, req.Source)
	if err != nil {
		if diags := compiler.Diagnostics(err); diags != nil {
			return &EvalResponse{
				Error:       err.Error(),
				ErrorKind:   vm.Syntax.String(),
				Diagnostics: diags,
			}, nil
		}
		return nil, connect.NewError(connect.CodeInternal, err)
	}

	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		th, err := s.threadFor(v, session)
		if err != nil {
			return nil, err
		}
		fn, err := th.Load(c.Bytecode, name)
		if err != nil {
			return failure(err), nil
		}
		defer fn.Release()
		return s.call(th, fn, req.Args, req.Session)
	})
	if err != nil {
		return nil, connectError(err)
	}
	return result.(*EvalResponse), nil
}

// Call invokes the function behind a handle.
func (s *EvalService) Call(ctx context.Context, handleID string, args []string, sessionID string) (*EvalResponse, error) {
	ref, ok := s.handles.Lookup(handleID)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", handleID))
	}
	session, err := s.session(sessionID)
	if err != nil {
		return nil, err
	}
	return s.callRef(ctx, handleID, ref, args, session)
}

// callRef calls a looked-up handle. A Release or Destroy that raced the
// lookup has queued its cleanup ahead of this request, so both are checked
// again on the worker.
func (s *EvalService) callRef(ctx context.Context, handleID string, ref *vm.Ref[vm.Value], args []string, session *Session) (*EvalResponse, error) {
	sessionID := ""
	if session != nil {
		sessionID = session.ID
	}
	result, err := s.worker.Do(ctx, func(v *vm.VM) (any, error) {
		if ref.Released() {
			return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("handle %q not found", handleID))
		}
		th, err := s.threadFor(v, session)
		if err != nil {
			return nil, err
		}
		if ref.Kind() != vm.TagFunction {
			return nil, connect.NewError(connect.CodeFailedPrecondition,
				fmt.Errorf("handle %q is a %s, not a function", handleID, ref.Kind()))
		}
		fn, _ := vm.Downcast[vm.Function](ref.Clone())
		defer fn.Release()
		return s.call(th, fn, args, sessionID)
	})
	if err != nil {
		return nil, connectError(err)
	}
	return result.(*EvalResponse), nil
}

// Release drops a handle. It reports whether the handle existed.
func (s *EvalService) Release(handleID string) bool {
	return s.handles.Release(handleID)
}

// CheckSyntax compiles source without running it.
func (s *EvalService) CheckSyntax(source string) []compiler.Diagnostic {
	_, err := compiler.Compile(source, s.options, compiler.ParseOptions{})
	if err == nil {
		return nil
	}
	if diags := compiler.Diagnostics(err); diags != nil {
		return diags
	}
	return []compiler.Diagnostic{{Message: err.Error()}}
}

// compile goes through the chunk cache when there is one.
func (s *EvalService) compile(ctx context.Context, name, source string) (*chunk.Chunk, error) {
	if s.cache == nil {
		return chunk.Compile(name, source, s.options)
	}
	h := chunk.HashSource(source, s.options)
	if c, err := s.cache.Get(ctx, h); err == nil {
		return c, nil
	} else if !errors.Is(err, chunk.ErrNotFound) {
		log.Warningf("eval cache: %s", err)
	}
	c, err := chunk.Compile(name, source, s.options)
	if err != nil {
		return nil, err
	}
	if err := s.cache.Put(ctx, c); err != nil {
		log.Warningf("eval cache: %s", err)
	}
	return c, nil
}

func (s *EvalService) session(id string) (*Session, error) {
	if id == "" {
		return nil, nil
	}
	session, ok := s.sessions.Get(id)
	if !ok {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", id))
	}
	return session, nil
}

// threadFor picks the thread a request runs on. Worker goroutine only.
func (s *EvalService) threadFor(v *vm.VM, session *Session) (*vm.Thread, error) {
	if session == nil {
		return v.MainThread(), nil
	}
	if session.thread.Released() {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("session %q not found", session.ID))
	}
	return session.Thread(), nil
}

// call runs fn on th and turns the results into handles.
// Must be called on the VM worker goroutine.
func (s *EvalService) call(th *vm.Thread, fn *vm.Ref[vm.Function], args []string, sessionID string) (*EvalResponse, error) {
	argRefs := make([]*vm.Ref[vm.String], 0, len(args))
	defer func() { vm.ReleaseAll(argRefs) }()
	callArgs := make([]vm.Arg, 0, len(args))
	for _, a := range args {
		r, err := th.NewString(a)
		if err != nil {
			return failure(err), nil
		}
		argRefs = append(argRefs, r)
		callArgs = append(callArgs, r)
	}

	results, err := th.CallSync(fn, callArgs...)
	if err != nil {
		return failure(err), nil
	}

	resp := &EvalResponse{Success: true, Results: make([]EvalResult, 0, len(results))}
	for _, r := range results {
		res := EvalResult{Kind: r.Kind().String(), Display: r.String()}
		if r.Kind().IsCollectible() {
			res.Handle = s.handles.Create(r, r.Kind(), res.Display, sessionID)
		} else {
			r.Release()
		}
		resp.Results = append(resp.Results, res)
	}
	return resp, nil
}

// failure reports a VM error as an unsuccessful response.
func failure(err error) *EvalResponse {
	resp := &EvalResponse{Error: err.Error(), ErrorKind: "error"}
	var vmErr *vm.Error
	var sig *vm.Signal
	switch {
	case errors.As(err, &vmErr):
		resp.ErrorKind = vmErr.Kind.String()
		resp.Error = vmErr.Message
		if resp.Error == "" {
			resp.Error = vmErr.Error()
		}
	case errors.As(err, &sig):
		resp.ErrorKind = sig.Status.String()
	}
	return resp
}

// connectError maps worker failures onto Connect codes.
func connectError(err error) error {
	var ce *connect.Error
	switch {
	case errors.As(err, &ce):
		return err
	case errors.Is(err, context.Canceled):
		return connect.NewError(connect.CodeCanceled, err)
	case errors.Is(err, context.DeadlineExceeded):
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	case errors.Is(err, ErrWorkerStopped):
		return connect.NewError(connect.CodeUnavailable, err)
	}
	return connect.NewError(connect.CodeInternal, err)
}

// ---------------------------------------------------------------------------
// Struct message codec
// ---------------------------------------------------------------------------

func stringField(msg *structpb.Struct, name string) string {
	return msg.GetFields()[name].GetStringValue()
}

func stringsField(msg *structpb.Struct, name string) ([]string, error) {
	list := msg.GetFields()[name].GetListValue()
	out := make([]string, 0, len(list.GetValues()))
	for i, v := range list.GetValues() {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("%s[%d] is not a string", name, i))
		}
		out = append(out, s.StringValue)
	}
	return out, nil
}

func decodeEvalRequest(msg *structpb.Struct) (EvalRequest, error) {
	args, err := stringsField(msg, "args")
	if err != nil {
		return EvalRequest{}, err
	}
	return EvalRequest{
		Source:    stringField(msg, "source"),
		ChunkName: stringField(msg, "chunkName"),
		Args:      args,
		Session:   stringField(msg, "session"),
	}, nil
}

func encodeEvalResponse(resp *EvalResponse) (*structpb.Struct, error) {
	results := make([]any, 0, len(resp.Results))
	for _, r := range resp.Results {
		m := map[string]any{"kind": r.Kind, "display": r.Display}
		if r.Handle != "" {
			m["handle"] = r.Handle
		}
		results = append(results, m)
	}
	fields := map[string]any{
		"success": resp.Success,
		"results": results,
	}
	if resp.Error != "" {
		fields["error"] = resp.Error
		fields["errorKind"] = resp.ErrorKind
	}
	if len(resp.Diagnostics) > 0 {
		fields["diagnostics"] = encodeDiagnostics(resp.Diagnostics)
	}
	return structpb.NewStruct(fields)
}

func encodeDiagnostics(diags []compiler.Diagnostic) []any {
	out := make([]any, 0, len(diags))
	for _, d := range diags {
		out = append(out, map[string]any{
			"message":     d.Message,
			"startLine":   d.Span.Start.Line,
			"startColumn": d.Span.Start.Column,
			"endLine":     d.Span.End.Line,
			"endColumn":   d.Span.End.Column,
		})
	}
	return out
}

// ---------------------------------------------------------------------------
// Struct-level handlers shared by the Connect and gRPC surfaces
// ---------------------------------------------------------------------------

func (s *EvalService) evaluateMsg(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	req, err := decodeEvalRequest(msg)
	if err != nil {
		return nil, err
	}
	resp, err := s.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	return encodeEvalResponse(resp)
}

func (s *EvalService) callMsg(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	args, err := stringsField(msg, "args")
	if err != nil {
		return nil, err
	}
	resp, err := s.Call(ctx, stringField(msg, "handle"), args, stringField(msg, "session"))
	if err != nil {
		return nil, err
	}
	return encodeEvalResponse(resp)
}

func (s *EvalService) releaseMsg(_ context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(msg, "handle")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("handle is required"))
	}
	return structpb.NewStruct(map[string]any{"released": s.Release(id)})
}

func (s *EvalService) checkSyntaxMsg(_ context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	source := stringField(msg, "source")
	if source == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("source is required"))
	}
	diags := s.CheckSyntax(source)
	return structpb.NewStruct(map[string]any{
		"valid":       len(diags) == 0,
		"diagnostics": encodeDiagnostics(diags),
	})
}

func (s *EvalService) createSessionMsg(ctx context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	session, err := s.sessions.Create(ctx, stringField(msg, "name"))
	if err != nil {
		return nil, connectError(err)
	}
	return structpb.NewStruct(map[string]any{"session": session.ID, "name": session.Name})
}

func (s *EvalService) destroySessionMsg(_ context.Context, msg *structpb.Struct) (*structpb.Struct, error) {
	id := stringField(msg, "session")
	if id == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, fmt.Errorf("session is required"))
	}
	return structpb.NewStruct(map[string]any{"destroyed": s.sessions.Destroy(id)})
}

type structHandler func(context.Context, *structpb.Struct) (*structpb.Struct, error)

func (s *EvalService) procedures() map[string]structHandler {
	return map[string]structHandler{
		EvaluateProcedure:       s.evaluateMsg,
		CallProcedure:           s.callMsg,
		ReleaseProcedure:        s.releaseMsg,
		CheckSyntaxProcedure:    s.checkSyntaxMsg,
		CreateSessionProcedure:  s.createSessionMsg,
		DestroySessionProcedure: s.destroySessionMsg,
	}
}
