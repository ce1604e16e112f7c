package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered with grpc's codec registry so ForceCodec
// can select it without a protoc-generated message type on either side.
const jsonCodecName = "playbookengine-json"

// jsonCodec implements encoding.Codec by marshaling/unmarshaling request
// and response values as JSON instead of protobuf wire format. There are
// no .proto files for this backend's wire contract, and protoc cannot be
// run here, so the gRPC channel carries plain JSON messages end to end —
// a real grpc-go dependency, exercised with a codec instead of generated
// stubs.
type jsonCodec struct{}

func (jsonCodec) Name() string { return jsonCodecName }

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// grpcChatRequest/grpcChatResponse are the JSON wire shapes exchanged
// with the LLM gateway service, mirroring ChatRequest/ChatResponse.
type grpcChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Temperature float32   `json:"temperature,omitempty"`
}

type grpcChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
}

// GRPCProvider implements Provider by calling a single unary RPC
// ("/playbookengine.llm.LLMGateway/Chat") against an internal LLM
// gateway service, using the JSON codec above in place of generated
// protobuf stubs.
type GRPCProvider struct {
	conn  *grpc.ClientConn
	model string
}

// NewGRPCProvider dials addr and returns a ready GRPCProvider. The
// caller owns the connection's lifetime via Close.
func NewGRPCProvider(addr, defaultModel string) (*GRPCProvider, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(jsonCodec{})),
	)
	if err != nil {
		return nil, fmt.Errorf("llm: grpc: dialing %s: %w", addr, err)
	}
	return &GRPCProvider{conn: conn, model: defaultModel}, nil
}

// Close releases the underlying connection.
func (p *GRPCProvider) Close() error {
	return p.conn.Close()
}

// Chat invokes the gateway's Chat RPC and returns its reply.
func (p *GRPCProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	wireReq := grpcChatRequest{
		Model:       model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	var wireResp grpcChatResponse
	if err := p.conn.Invoke(ctx, "/playbookengine.llm.LLMGateway/Chat", &wireReq, &wireResp); err != nil {
		return nil, fmt.Errorf("llm: grpc: %w", err)
	}

	return &ChatResponse{
		Content:      wireResp.Content,
		StopReason:   wireResp.StopReason,
		InputTokens:  wireResp.InputTokens,
		OutputTokens: wireResp.OutputTokens,
	}, nil
}
