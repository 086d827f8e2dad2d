// Copyright © SAS Institute Inc.
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package notify

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/streadway/amqp"

	"github.com/sassoftware/ipasign/config"
)

const dialTimeout = 10 * time.Second

// AMQP publishes notifications to a fanout exchange
type AMQP struct {
	Config *config.NotifyConfig
}

// SendReady publishes a ready event and waits for the broker to confirm it
func (a AMQP) SendReady(ctx context.Context, appName string) error {
	blob, err := NewReadyEvent(appName).Marshal()
	if err != nil {
		return err
	}
	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  "application/json",
		Body:         blob,
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	conn, err := Connect(a.Config)
	if err != nil {
		return err
	}
	defer conn.Close()
	ch, err := conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	exchange := a.Config.ExchangeName()
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeFanout, true, false, false, false, nil); err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		return err
	}
	notify := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	if err := ch.Publish(exchange, a.Config.RoutingKey, false, false, msg); err != nil {
		return err
	}
	select {
	case confirm := <-notify:
		if !confirm.Ack {
			return errors.New("message was NACKed")
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect to the configured AMQP broker
func Connect(nconf *config.NotifyConfig) (*amqp.Connection, error) {
	uri, err := amqp.ParseURI(nconf.AmqpURL)
	if err != nil {
		return nil, err
	}
	var tconf *tls.Config
	var auth []amqp.Authentication
	if uri.Scheme == "amqps" {
		tconf = &tls.Config{MinVersion: tls.VersionTLS12}
		if nconf.CaCert != "" {
			pem, err := os.ReadFile(nconf.CaCert)
			if err != nil {
				return nil, err
			}
			tconf.RootCAs = x509.NewCertPool()
			if !tconf.RootCAs.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("%s: no certificates found", nconf.CaCert)
			}
		}
	}
	if uri.Password != "" {
		auth = append(auth, uri.PlainAuth())
	}
	qconf := amqp.Config{
		SASL:            auth,
		TLSClientConfig: tconf,
		Dial:            amqp.DefaultDial(dialTimeout),
	}
	return amqp.DialConfig(nconf.AmqpURL, qconf)
}

// FromConfig builds the sender for the notify section of the configuration.
// Notifications are always logged and are also published when a broker is
// configured.
func FromConfig(nconf *config.NotifyConfig) Sender {
	if nconf == nil || nconf.AmqpURL == "" {
		return Log{}
	}
	return Multi{Log{}, AMQP{Config: nconf}}
}
