// Package telemetry publishes lift motion events to a time-series database.
package telemetry

import (
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/sirupsen/logrus"
)

// A Recorder receives lift motion events. Implementations must not block the
// motion loop.
type Recorder interface {
	RecordPoint(measurement string, fields map[string]interface{})
}

// Influx is a Recorder writing asynchronously to InfluxDB.
type Influx struct {
	client   influxdb2.Client
	writeAPI api.WriteApi
}

func NewInflux(server, token, org, bucket string, log *logrus.Entry) *Influx {
	client := influxdb2.NewClient(server, token)
	writeAPI := client.WriteApi(org, bucket)
	errorsCh := writeAPI.Errors()
	go func() {
		for err := range errorsCh {
			log.Warnf("influx write error: %v", err)
		}
	}()
	return &Influx{client: client, writeAPI: writeAPI}
}

func (i *Influx) RecordPoint(measurement string, fields map[string]interface{}) {
	p := influxdb2.NewPoint(measurement, nil, fields, time.Now())
	// write asynchronously
	i.writeAPI.WritePoint(p)
}

func (i *Influx) Close() {
	i.writeAPI.Flush()
	i.writeAPI.Close()
	i.client.Close()
}
