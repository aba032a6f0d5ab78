// Package grpc exposes the standard gRPC health protocol for the chat server.
//
// The overall service ("") is SERVING while the process runs. The
// GeneratorService entry reports SERVING only when an AI backend was
// selected at startup, so orchestrators can tell fallback mode apart.
//
// Example Usage:
//
//	hs := grpc.NewHealthServer(tracer, logger)
//	hs.SetGenerator(orchestrator.AIEnabled())
//	go hs.Serve(lis)
//
//	status, err := grpc.Check(ctx, "localhost:50051", grpc.GeneratorService)
package grpc
