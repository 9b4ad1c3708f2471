// Package transports registers every built-in p4flow sink with the default
// registry. Import it for its side effects.
package transports

import (
	_ "github.com/drblury/p4flow/transport/aws"
	_ "github.com/drblury/p4flow/transport/channel"
	_ "github.com/drblury/p4flow/transport/http"
	_ "github.com/drblury/p4flow/transport/io"
	_ "github.com/drblury/p4flow/transport/jetstream"
	_ "github.com/drblury/p4flow/transport/kafka"
	_ "github.com/drblury/p4flow/transport/nats"
	_ "github.com/drblury/p4flow/transport/postgres"
	_ "github.com/drblury/p4flow/transport/rabbitmq"
	_ "github.com/drblury/p4flow/transport/sqlite"
)
