package p4flow

import (
	"context"
	"time"

	"github.com/drblury/p4flow/internal/p4rt"
	runtimepkg "github.com/drblury/p4flow/internal/runtime"
	configpkg "github.com/drblury/p4flow/internal/runtime/config"
	decodepkg "github.com/drblury/p4flow/internal/runtime/decode"
	errspkg "github.com/drblury/p4flow/internal/runtime/errors"
	idspkg "github.com/drblury/p4flow/internal/runtime/ids"
	jsoncodec "github.com/drblury/p4flow/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/p4flow/internal/runtime/logging"
	metadatapkg "github.com/drblury/p4flow/internal/runtime/metadata"
	"github.com/drblury/p4flow/internal/runtime/stream"
	transportpkg "github.com/drblury/p4flow/internal/runtime/transport"
	"github.com/drblury/p4flow/internal/runtime/value"
	newtransport "github.com/drblury/p4flow/transport"
)

type (
	Config              = configpkg.Config
	Service             = runtimepkg.Service
	ServiceDependencies = runtimepkg.ServiceDependencies
	Sink                = transportpkg.Sink
	TransportFactory    = transportpkg.Factory
	TransportFactoryFn  = transportpkg.FactoryFunc

	// Stream routing
	Router         = stream.Router
	RouterOptions  = stream.Options
	RouterState    = stream.State
	RouterStats    = stream.Stats
	KindStats      = stream.KindStats
	Observer       = stream.Observer
	Source         = stream.Source
	SourceFunc     = stream.SourceFunc
	Kind           = stream.Kind
	OverflowPolicy = stream.OverflowPolicy
	Subscription   = stream.Subscription

	Subscriber[T any] = stream.Subscriber[T]

	Envelope                = stream.Envelope
	ArbitrationUpdate       = stream.ArbitrationUpdate
	PacketIn                = stream.PacketIn
	PacketMetadata          = stream.PacketMetadata
	DigestList              = stream.DigestList
	IdleTimeoutNotification = stream.IdleTimeoutNotification
	StreamError             = stream.StreamError
	Status                  = stream.Status
	Uint128                 = stream.Uint128

	// P4Runtime adapter
	StreamReceiver = p4rt.Receiver
	StreamSender   = p4rt.Sender
	StreamSource   = p4rt.Source

	// Typed values and decoding
	TypedValue       = value.TypedValue
	ValueKind        = value.Kind
	Unmarshaler      = decodepkg.Unmarshaler
	DecodeError      = decodepkg.Error
	BatchDecodeError = decodepkg.BatchError
	CustomError      = decodepkg.CustomError

	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	// Forward lifecycle hooks
	ForwardContext = runtimepkg.ForwardContext
	ForwardHooks   = runtimepkg.ForwardHooks

	RouterMetrics = runtimepkg.RouterMetrics
	SinkStatus    = runtimepkg.SinkStatus
	TopicStatus   = runtimepkg.TopicStatus

	Metadata = metadatapkg.Metadata

	LogFields                 = loggingpkg.LogFields
	ServiceLogger             = loggingpkg.ServiceLogger
	EntryLogger               = loggingpkg.EntryLogger
	EntryLoggerAdapter[T any] = loggingpkg.EntryLoggerAdapter[T]

	ConfigValidationError = errspkg.ConfigValidationError

	// Sinks
	TransportBuilder      = newtransport.Builder
	TransportConfig       = newtransport.Config
	TransportRegistry     = newtransport.Registry
	TransportCapabilities = newtransport.Capabilities
	Archive               = newtransport.Archive
)

// Stream kinds.
const (
	KindUnknown     = stream.KindUnknown
	KindArbitration = stream.KindArbitration
	KindPacket      = stream.KindPacket
	KindDigest      = stream.KindDigest
	KindIdleTimeout = stream.KindIdleTimeout
	KindError       = stream.KindError
)

// Router states.
const (
	StateIdle      = stream.StateIdle
	StateRunning   = stream.StateRunning
	StateClosed    = stream.StateClosed
	StateFailed    = stream.StateFailed
	StateCancelled = stream.StateCancelled
)

const (
	DropOldest = stream.DropOldest
	DropNewest = stream.DropNewest
)

// Metadata keys set on every forwarded message.
const (
	MetadataKeyCorrelationID = metadatapkg.KeyCorrelationID
	MetadataKeyKind          = metadatapkg.KeyKind
	MetadataKeySeq           = metadatapkg.KeySeq
	MetadataKeyReceivedAt    = metadatapkg.KeyReceivedAt
	MetadataKeyTopic         = metadatapkg.KeyTopic
)

// Forward results recorded in p4flow_stream_forwarded_total.
const (
	ForwardResultOK       = runtimepkg.ForwardResultOK
	ForwardResultFailed   = runtimepkg.ForwardResultFailed
	ForwardResultOversize = runtimepkg.ForwardResultOversize
)

var (
	NewService     = runtimepkg.NewService
	TryNewService  = runtimepkg.TryNewService
	ValidateConfig = configpkg.ValidateConfig
	LoadConfig     = configpkg.LoadFile

	NewRouter           = stream.NewRouter
	ParseKind           = stream.ParseKind
	ParseState          = stream.ParseState
	ParseOverflowPolicy = stream.ParseOverflowPolicy
	Kinds               = stream.Kinds

	Arbitrations = stream.Arbitrations
	Packets      = stream.Packets
	Digests      = stream.Digests
	IdleTimeouts = stream.IdleTimeouts
	Errors       = stream.Errors

	NewSource    = p4rt.NewSource
	FromP4Data   = p4rt.FromP4Data
	ToP4Data     = p4rt.ToP4Data
	ToEnvelope   = p4rt.ToEnvelope
	TableEntries = p4rt.TableEntries
	AckDigest    = p4rt.AckDigest
	DigestAck    = p4rt.DigestAck

	Bool         = value.Bool
	Bitstring    = value.Bitstring
	Varbit       = value.Varbit
	Record       = value.Record
	Tuple        = value.Tuple
	Uint         = value.Uint
	Unset        = value.Unset
	Canonicalize = value.Canonicalize

	DecodeInto = decodepkg.Into

	EnvelopeMessage = runtimepkg.EnvelopeMessage
	DecodeEnvelope  = runtimepkg.DecodeEnvelope
	PublishEnvelope = runtimepkg.PublishEnvelope

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	ForwardOutcomeMiddleware = runtimepkg.ForwardOutcomeMiddleware
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware    = runtimepkg.LogMessagesMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	RetryMiddleware          = runtimepkg.RetryMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware

	// Forward lifecycle hooks
	ForwardHooksMiddleware = runtimepkg.ForwardHooksMiddleware
	LoggingHooks           = runtimepkg.LoggingHooks
	MetricsHooks           = runtimepkg.MetricsHooks
	AlertingHooks          = runtimepkg.AlertingHooks

	NewRouterMetrics = runtimepkg.NewRouterMetrics

	// Sink registry. Built-in sinks register themselves when
	// github.com/drblury/p4flow/transport/transports is imported, which the
	// default TransportFactory does.
	DefaultTransportRegistry = newtransport.DefaultRegistry
	RegisterTransport        = newtransport.Register
	BuildTransport           = newtransport.Build
	GetCapabilities          = newtransport.GetCapabilities
	DefaultTransportFactory  = transportpkg.DefaultFactory

	Marshal       = jsoncodec.Marshal
	MarshalIndent = jsoncodec.MarshalIndent
	Unmarshal     = jsoncodec.Unmarshal
	Encode        = jsoncodec.Encode
	Decode        = jsoncodec.Decode
	NewDecoder    = jsoncodec.NewDecoder

	ErrTimeout              = errspkg.ErrTimeout
	ErrClosed               = errspkg.ErrClosed
	ErrStreamFailed         = errspkg.ErrStreamFailed
	ErrAlreadyStarted       = errspkg.ErrAlreadyStarted
	ErrUnknownKind          = errspkg.ErrUnknownKind
	ErrSourceRequired       = errspkg.ErrSourceRequired
	ErrUnknownState         = errspkg.ErrUnknownState
	ErrSenderRequired       = errspkg.ErrSenderRequired
	ErrDigestRequired       = errspkg.ErrDigestRequired
	ErrConfigRequired       = errspkg.ErrConfigRequired
	ErrLoggerRequired       = errspkg.ErrLoggerRequired
	ErrPublisherRequired    = errspkg.ErrPublisherRequired
	ErrTopicRequired        = errspkg.ErrTopicRequired
	ErrSubscriptionRequired = errspkg.ErrSubscriptionRequired
	ErrOversize             = runtimepkg.ErrOversize
	ErrInvalidTarget        = decodepkg.ErrInvalidTarget

	ErrExpectedBool   = decodepkg.ErrExpectedBool
	ErrExpectedInt8   = decodepkg.ErrExpectedInt8
	ErrExpectedInt16  = decodepkg.ErrExpectedInt16
	ErrExpectedInt32  = decodepkg.ErrExpectedInt32
	ErrExpectedInt64  = decodepkg.ErrExpectedInt64
	ErrExpectedUint8  = decodepkg.ErrExpectedUint8
	ErrExpectedUint16 = decodepkg.ErrExpectedUint16
	ErrExpectedUint32 = decodepkg.ErrExpectedUint32
	ErrExpectedUint64 = decodepkg.ErrExpectedUint64
	ErrExpectedBytes  = decodepkg.ErrExpectedBytes
	ErrExpectedTuple  = decodepkg.ErrExpectedTuple
	ErrExpectedStruct = decodepkg.ErrExpectedStruct

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	NewMetadata = metadatapkg.New

	CreateULID   = idspkg.CreateULID
	CreateULIDAt = idspkg.CreateULIDAt
)

// DecodeValue decodes v into a new T.
func DecodeValue[T any](v *TypedValue) (T, error) {
	return decodepkg.Decode[T](v)
}

// DecodeBatch decodes every value in order and stops at the first failure.
func DecodeBatch[T any](values []*TypedValue) ([]T, error) {
	return decodepkg.Batch[T](values)
}

// DecodeDigest decodes every element of a digest list into T.
func DecodeDigest[T any](d *DigestList) ([]T, error) {
	if d == nil {
		return nil, nil
	}
	return decodepkg.Batch[T](d.Data)
}

// NextDigest waits up to timeout for the next digest list and decodes it.
func NextDigest[T any](sub *Subscriber[*DigestList], timeout time.Duration) ([]T, error) {
	d, err := sub.AwaitNext(timeout)
	if err != nil {
		return nil, err
	}
	return DecodeDigest[T](d)
}

// NewSubscriber creates a typed facade over kind, extracting T with pick.
func NewSubscriber[T any](r *Router, kind Kind, pick func(*Envelope) T) (*Subscriber[T], error) {
	return stream.NewSubscriber(r, kind, pick)
}

// Run routes envelopes from a P4Runtime stream with a standalone router, for
// callers that do not need forwarding.
func Run(ctx context.Context, r *Router, recv StreamReceiver, cancel context.CancelFunc) error {
	return r.Run(ctx, NewSource(recv, cancel))
}

func NewEntryServiceLogger[T EntryLoggerAdapter[T]](entry T) ServiceLogger {
	return loggingpkg.NewEntryServiceLogger(entry)
}
