package grpcx_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cwrk-planet/inquiry-service/internal/domain"
	"github.com/cwrk-planet/inquiry-service/internal/fanout"
	"github.com/cwrk-planet/inquiry-service/internal/identity"
	"github.com/cwrk-planet/inquiry-service/internal/memstore"
	"github.com/cwrk-planet/inquiry-service/internal/repository"
	"github.com/cwrk-planet/inquiry-service/internal/service"
	grpcx "github.com/cwrk-planet/inquiry-service/internal/transport/grpc"
	"github.com/cwrk-planet/inquiry-service/pkg/api"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type grpcEnv struct {
	conn      *grpc.ClientConn
	signer    *identity.Signer
	inquiries *service.InquiryService
	creatorID string
}

func newGRPCEnv(t *testing.T) *grpcEnv {
	t.Helper()
	store := memstore.New()
	hub := fanout.NewHub(store, fanout.Options{})
	t.Cleanup(hub.Close)
	broker := fanout.NewLocalBroker(hub)

	store.PutProfile(domain.Profile{UserID: "u-b1", Kind: domain.ProfileBrand})
	store.PutProfile(domain.Profile{UserID: "u-b2", Kind: domain.ProfileBrand})
	c := store.PutProfile(domain.Profile{UserID: "u-c1", Kind: domain.ProfileCreator})

	inquiries := service.NewInquiryService(store, store, broker)
	chat := service.NewChatService(store, store, broker, hub, service.ChatConfig{})

	srv := grpcx.NewServer(identity.NewHMACVerifier(secret, "", "", 0), time.Second)
	srv.RegisterInquiryService(grpcx.NewInquiryServer(inquiries, chat))
	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.GRPC.Serve(lis) }()
	t.Cleanup(srv.Shutdown)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(grpcx.CodecName)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	return &grpcEnv{
		conn:      conn,
		signer:    identity.NewHMACSigner(secret, "", "", time.Hour),
		inquiries: inquiries,
		creatorID: c.ID,
	}
}

func (e *grpcEnv) as(t *testing.T, userID string, role domain.Role) context.Context {
	t.Helper()
	tok, err := e.signer.Sign(domain.Actor{UserID: userID, Role: role}, time.Now())
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func TestInquiryService_OverGRPC(t *testing.T) {
	e := newGRPCEnv(t)
	brand := e.as(t, "u-b1", domain.RoleBrand)
	creator := e.as(t, "u-c1", domain.RoleCreator)
	stranger := e.as(t, "u-b2", domain.RoleBrand)

	inq, err := e.inquiries.Create(context.Background(), domain.Actor{UserID: "u-b1", Role: domain.RoleBrand}, e.creatorID, "hi")
	require.NoError(t, err)

	var got api.Inquiry
	require.NoError(t, e.conn.Invoke(brand, grpcx.MethodGetInquiry, &grpcx.GetInquiryRequest{InquiryID: inq.ID}, &got))
	assert.Equal(t, api.StatusPending, got.Status)

	var msg api.Message
	err = e.conn.Invoke(brand, grpcx.MethodSendMessage, &grpcx.SendMessageRequest{InquiryID: inq.ID, Content: "early"}, &msg)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	err = e.conn.Invoke(creator, grpcx.MethodRespondToInquiry, &grpcx.RespondRequest{InquiryID: inq.ID, Decision: "maybe"}, &got)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	require.NoError(t, e.conn.Invoke(creator, grpcx.MethodRespondToInquiry, &grpcx.RespondRequest{InquiryID: inq.ID, Decision: api.DecisionAccept}, &got))
	assert.Equal(t, api.StatusAccepted, got.Status)

	require.NoError(t, e.conn.Invoke(brand, grpcx.MethodSendMessage, &grpcx.SendMessageRequest{InquiryID: inq.ID, Content: "Hi!"}, &msg))
	assert.EqualValues(t, 1, msg.Seq)

	var page api.MessageList
	require.NoError(t, e.conn.Invoke(creator, grpcx.MethodListMessages, &grpcx.ListMessagesRequest{InquiryID: inq.ID}, &page))
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Hi!", page.Items[0].Content)
	assert.Equal(t, repository.EncodeSeqCursor(1), page.NextCursor)

	err = e.conn.Invoke(stranger, grpcx.MethodGetInquiry, &grpcx.GetInquiryRequest{InquiryID: inq.ID}, &got)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))

	err = e.conn.Invoke(brand, grpcx.MethodGetInquiry, &grpcx.GetInquiryRequest{InquiryID: "missing"}, &got)
	assert.Equal(t, codes.NotFound, status.Code(err))

	err = e.conn.Invoke(creator, grpcx.MethodListMessages, &grpcx.ListMessagesRequest{InquiryID: inq.ID, Cursor: "zzz"}, &page)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestInquiryService_RequiresToken(t *testing.T) {
	e := newGRPCEnv(t)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var got api.Inquiry
	err := e.conn.Invoke(ctx, grpcx.MethodGetInquiry, &grpcx.GetInquiryRequest{InquiryID: "any"}, &got)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	bad := metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer nope")
	err = e.conn.Invoke(bad, grpcx.MethodGetInquiry, &grpcx.GetInquiryRequest{InquiryID: "any"}, &got)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
