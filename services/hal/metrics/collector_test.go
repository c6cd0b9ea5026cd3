package metrics

import (
	"strings"
	"testing"

	"benchio/services/hal/acquire"
	"benchio/services/hal/diag"
	"benchio/services/hal/platform"
	"benchio/services/hal/serial"
	"benchio/services/hal/usbcdc"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// value finds name{label=lv} in a gathered registry.
func value(t *testing.T, reg *prometheus.Registry, name, lv string) float64 {
	t.Helper()
	fams, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range fams {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if lv == "" || labelIs(m, lv) {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue()
				}
				return m.GetGauge().GetValue()
			}
		}
	}
	t.Fatalf("metric %s{%s} not found", name, lv)
	return 0
}

func labelIs(m *dto.Metric, v string) bool {
	for _, l := range m.GetLabel() {
		if l.GetValue() == v {
			return true
		}
	}
	return false
}

func TestCollectorReportsLiveHandles(t *testing.T) {
	log := zaptest.NewLogger(t)
	sb := platform.NewSimBoard()
	b := sb.Board()

	ser := serial.NewManager(b.UART, nil, log)
	usb := usbcdc.NewManager(b.USB, nil, log)
	adc := acquire.NewManager(b.ADC, b.Timers, log)
	sink := diag.NewRingSink(make([]byte, 16))

	sb.UARTs[0].AutoComplete = true
	sh, err := ser.Init(serial.UART0, serial.Config{})
	require.NoError(t, err)
	_, err = sh.Write([]byte("hello"))
	require.NoError(t, err)
	sb.UARTs[0].Inject([]byte("abc"))

	_, err = usb.Init(usbcdc.CDC0, usbcdc.Config{})
	require.NoError(t, err)
	sb.USBs[0].HostSend([]byte("xy"))
	usb.Task()

	ah, err := adc.Init(acquire.ADC0, make([]uint16, 8), acquire.Config{SampleRateHz: 10_000})
	require.NoError(t, err)
	require.NoError(t, ah.Start())
	require.True(t, sb.ADCs[0].Fill())

	_, _ = sink.Write([]byte(strings.Repeat("z", 40)))

	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(Sources{Serial: ser, USB: usb, Acquire: adc, Log: sink})))

	assert.Equal(t, 5.0, value(t, reg, "benchio_serial_tx_bytes_total", "uart0"))
	assert.Equal(t, 1.0, value(t, reg, "benchio_serial_transfers_total", "uart0"))
	assert.Equal(t, 3.0, value(t, reg, "benchio_serial_rx_queued_bytes", "uart0"))
	assert.Equal(t, 0.0, value(t, reg, "benchio_serial_tx_busy", "uart0"))
	assert.Equal(t, 2.0, value(t, reg, "benchio_usb_rx_bytes_total", "cdc0"))
	assert.Equal(t, 1.0, value(t, reg, "benchio_acquire_fills_total", "adc0"))
	assert.Equal(t, 1.0, value(t, reg, "benchio_acquire_running", "adc0"))
	assert.Equal(t, 10000.0, value(t, reg, "benchio_acquire_sample_rate_hz", "adc0"))
	assert.Equal(t, 1.0, value(t, reg, "benchio_diag_log_dropped_total", ""))
}

func TestCollectorSkipsDeadAndMissingSources(t *testing.T) {
	sb := platform.NewSimBoard()
	ser := serial.NewManager(sb.Board().UART, nil, zaptest.NewLogger(t))
	c := NewCollector(Sources{Serial: ser})

	assert.Equal(t, 0, testutil.CollectAndCount(c))

	_, err := ser.Init(serial.UART1, serial.Config{})
	require.NoError(t, err)
	assert.Equal(t, 8, testutil.CollectAndCount(c))
	assert.Equal(t, 1, testutil.CollectAndCount(c, "benchio_serial_overruns_total"))

	require.NoError(t, ser.Deinit(serial.UART1))
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}
