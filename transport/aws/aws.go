// Package aws provides an AWS SNS sink for p4flow. Every forwarded topic maps
// to an SNS topic in the configured account; a custom endpoint switches the
// sink to LocalStack defaults.
package aws

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	amazonsns "github.com/aws/aws-sdk-go-v2/service/sns"
	smithyendpoints "github.com/aws/smithy-go/endpoints"

	"github.com/drblury/p4flow/transport"
)

const TransportName = "aws"

const (
	localstackAccountID = "000000000000"
	accountIDLength     = 12
)

// DefaultConfigLoader allows overriding the AWS config loader for testing.
var DefaultConfigLoader = awsconfig.LoadDefaultConfig

// TopicResolverFactory allows overriding the topic resolver creation for testing.
var TopicResolverFactory = sns.NewGenerateArnTopicResolver

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return sns.NewPublisher(cfg, logger)
}

func init() {
	Register()
}

func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.AWSCapabilities)
}

// settings is the SNS view of transport.Config.
type settings struct {
	region    string
	accountID string
	endpoint  *url.URL
	accessKey string
	secretKey string
}

func settingsFrom(cfg transport.Config) (settings, error) {
	s := settings{
		region:    cfg.GetAWSRegion(),
		accountID: strings.Trim(cfg.GetAWSAccountID(), "\"' "),
		accessKey: cfg.GetAWSAccessKeyID(),
		secretKey: cfg.GetAWSSecretAccessKey(),
	}
	if raw := cfg.GetAWSEndpoint(); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return settings{}, fmt.Errorf("aws: parse endpoint: %w", err)
		}
		s.endpoint = u
	}
	return s, nil
}

// localstack reports whether a custom endpoint is configured.
func (s settings) localstack() bool { return s.endpoint != nil }

// account returns the account id used in topic ARNs. LocalStack accepts only
// its fixed account, so an empty or malformed id is replaced there.
func (s settings) account() string {
	if s.localstack() && len(s.accountID) != accountIDLength {
		return localstackAccountID
	}
	return s.accountID
}

func (s settings) loadOptions() []func(*awsconfig.LoadOptions) error {
	var opts []func(*awsconfig.LoadOptions) error
	if s.region != "" {
		opts = append(opts, awsconfig.WithRegion(s.region))
	}
	if s.accessKey != "" && s.secretKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(s.accessKey, s.secretKey, "")))
	}
	return opts
}

// Build loads the AWS config and creates an SNS publisher whose topics are
// resolved to ARNs in the configured account and region.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	s, err := settingsFrom(cfg)
	if err != nil {
		return transport.Transport{}, err
	}

	awsCfg, err := DefaultConfigLoader(ctx, s.loadOptions()...)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("aws: load config: %w", err)
	}
	if s.region != "" {
		awsCfg.Region = s.region
	}

	account := s.account()
	logger.Info("Creating SNS publisher", watermill.LogFields{
		"region":     awsCfg.Region,
		"account_id": account,
		"localstack": s.localstack(),
	})

	resolver, err := TopicResolverFactory(account, awsCfg.Region)
	if err != nil {
		return transport.Transport{}, fmt.Errorf("aws: topic resolver: %w", err)
	}

	publisher, err := PublisherFactory(publisherConfig(awsCfg, s, topicNameResolver{next: resolver}), logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{Publisher: publisher}, nil
}

func publisherConfig(awsCfg aws.Config, s settings, resolver sns.TopicResolver) sns.PublisherConfig {
	pc := sns.PublisherConfig{
		TopicResolver: resolver,
		AWSConfig:     awsCfg,
		Marshaler:     sns.DefaultMarshalerUnmarshaler{},
	}
	if s.endpoint != nil {
		pc.OptFns = []func(*amazonsns.Options){
			amazonsns.WithEndpointResolverV2(sns.OverrideEndpointResolver{
				Endpoint: smithyendpoints.Endpoint{URI: *s.endpoint},
			}),
		}
	}
	return pc
}

// TopicName maps a forwarding topic to a valid SNS topic name. SNS only
// accepts letters, digits, hyphens and underscores.
func TopicName(topic string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, topic)
}

type topicNameResolver struct {
	next sns.TopicResolver
}

func (r topicNameResolver) ResolveTopic(ctx context.Context, topic string) (sns.TopicArn, error) {
	return r.next.ResolveTopic(ctx, TopicName(topic))
}

func Capabilities() transport.Capabilities {
	return transport.AWSCapabilities
}
