// services/hal/metrics/collector.go
//
// Package metrics exports transport counters to Prometheus. Counters live
// in the handles as atomics; the collector reads them at scrape time, so
// nothing on the transfer path knows about Prometheus.
package metrics

import (
	"benchio/services/hal/acquire"
	"benchio/services/hal/diag"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "benchio"

// Sources are the managers to scrape. Nil members are skipped.
type Sources struct {
	Serial  *serial.Manager
	USB     *usbcdc.Manager
	Acquire *acquire.Manager
	Log     *diag.RingSink
}

type Collector struct {
	src Sources

	serialRx, serialTx, serialTransfers, serialOverruns, serialCallbacks, serialFaults *prometheus.Desc
	serialTxBusy, serialRxQueued                                                      *prometheus.Desc

	usbRx, usbTx, usbFlushes, usbDisconnects, usbCallbacks, usbStalls *prometheus.Desc

	adcFills, adcSamples, adcDropped, adcRunning, adcRate *prometheus.Desc

	logDropped, logBuffered *prometheus.Desc
}

func desc(subsystem, name, help string, labels ...string) *prometheus.Desc {
	return prometheus.NewDesc(prometheus.BuildFQName(namespace, subsystem, name), help, labels, nil)
}

func NewCollector(src Sources) *Collector {
	return &Collector{
		src: src,

		serialRx:        desc("serial", "rx_bytes_total", "Bytes handed to readers.", "port"),
		serialTx:        desc("serial", "tx_bytes_total", "Bytes confirmed sent by the peripheral.", "port"),
		serialTransfers: desc("serial", "transfers_total", "DMA transmit transfers started.", "port"),
		serialOverruns:  desc("serial", "overruns_total", "Times the receiver lapped the reader.", "port"),
		serialCallbacks: desc("serial", "rx_callbacks_total", "Threshold callbacks delivered.", "port"),
		serialFaults:    desc("serial", "faults_total", "Transmit starts rejected by the peripheral.", "port"),
		serialTxBusy:    desc("serial", "tx_busy", "1 while a transmit transfer is in flight.", "port"),
		serialRxQueued:  desc("serial", "rx_queued_bytes", "Bytes waiting in the receive ring.", "port"),

		usbRx:          desc("usb", "rx_bytes_total", "Bytes moved from the endpoint FIFO to the receive ring.", "function"),
		usbTx:          desc("usb", "tx_bytes_total", "Bytes moved into the endpoint FIFO.", "function"),
		usbFlushes:     desc("usb", "forced_flushes_total", "Partial packets flushed by timeout.", "function"),
		usbDisconnects: desc("usb", "disconnects_total", "DTR falling edges.", "function"),
		usbCallbacks:   desc("usb", "rx_callbacks_total", "Threshold callbacks delivered.", "function"),
		usbStalls:      desc("usb", "rx_stalls_total", "Task calls that left data in the FIFO for lack of ring space.", "function"),

		adcFills:   desc("acquire", "fills_total", "Completed sample buffers.", "converter"),
		adcSamples: desc("acquire", "samples_read_total", "Samples handed to readers.", "converter"),
		adcDropped: desc("acquire", "samples_dropped_total", "Samples discarded unread by restart.", "converter"),
		adcRunning: desc("acquire", "running", "1 while the pacing timer runs.", "converter"),
		adcRate:    desc("acquire", "sample_rate_hz", "Achieved sample rate after divider rounding.", "converter"),

		logDropped:  desc("diag", "log_dropped_total", "Log entries dropped because the ring was full."),
		logBuffered: desc("diag", "log_buffered_bytes", "Log bytes waiting to be drained."),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.serialRx, c.serialTx, c.serialTransfers, c.serialOverruns, c.serialCallbacks, c.serialFaults,
		c.serialTxBusy, c.serialRxQueued,
		c.usbRx, c.usbTx, c.usbFlushes, c.usbDisconnects, c.usbCallbacks, c.usbStalls,
		c.adcFills, c.adcSamples, c.adcDropped, c.adcRunning, c.adcRate,
		c.logDropped, c.logBuffered,
	} {
		ch <- d
	}
}

func counter(ch chan<- prometheus.Metric, d *prometheus.Desc, v uint64, label string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), label)
}

func gauge(ch chan<- prometheus.Metric, d *prometheus.Desc, v float64, labels ...string) {
	ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if m := c.src.Serial; m != nil {
		m.Each(func(port int, h *serial.Handle) {
			l := serial.PortName(port)
			s := h.Stats()
			counter(ch, c.serialRx, s.RxBytes, l)
			counter(ch, c.serialTx, s.TxBytes, l)
			counter(ch, c.serialTransfers, s.Transfers, l)
			counter(ch, c.serialOverruns, s.Overruns, l)
			counter(ch, c.serialCallbacks, s.Callbacks, l)
			counter(ch, c.serialFaults, s.Faults, l)
			gauge(ch, c.serialTxBusy, b2f(h.TxBusy()), l)
			gauge(ch, c.serialRxQueued, float64(h.Queued()), l)
		})
	}
	if m := c.src.USB; m != nil {
		m.Each(func(fn int, h *usbcdc.Handle) {
			l := usbcdc.Name(fn)
			s := h.Stats()
			counter(ch, c.usbRx, s.RxBytes, l)
			counter(ch, c.usbTx, s.TxBytes, l)
			counter(ch, c.usbFlushes, s.Flushes, l)
			counter(ch, c.usbDisconnects, s.Disconnects, l)
			counter(ch, c.usbCallbacks, s.Callbacks, l)
			counter(ch, c.usbStalls, s.Stalls, l)
		})
	}
	if m := c.src.Acquire; m != nil {
		m.Each(func(id int, h *acquire.Handle) {
			l := acquire.Name(id)
			s := h.Stats()
			counter(ch, c.adcFills, s.Fills, l)
			counter(ch, c.adcSamples, s.Samples, l)
			counter(ch, c.adcDropped, s.Dropped, l)
			gauge(ch, c.adcRunning, b2f(h.Running()), l)
			gauge(ch, c.adcRate, float64(h.Rate()), l)
		})
	}
	if s := c.src.Log; s != nil {
		ch <- prometheus.MustNewConstMetric(c.logDropped, prometheus.CounterValue, float64(s.Dropped()))
		gauge(ch, c.logBuffered, float64(s.Buffered()))
	}
}
