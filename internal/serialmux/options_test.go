package serialmux

import (
	"testing"

	"go.bug.st/serial"
)

func TestPortOptionsNormalize(t *testing.T) {
	tests := []struct {
		name    string
		opts    PortOptions
		want    PortOptions
		wantErr bool
	}{
		{
			name: "zero values get defaults",
			opts: PortOptions{},
			want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "obd rate preserved",
			opts: PortOptions{BaudRate: 38400},
			want: PortOptions{BaudRate: 38400, DataBits: 8, StopBits: 1, Parity: "N"},
		},
		{
			name: "parity word normalized",
			opts: PortOptions{Parity: "even"},
			want: PortOptions{BaudRate: 9600, DataBits: 8, StopBits: 1, Parity: "E"},
		},
		{
			name:    "invalid data bits",
			opts:    PortOptions{DataBits: 9},
			wantErr: true,
		},
		{
			name:    "invalid stop bits",
			opts:    PortOptions{StopBits: 3},
			wantErr: true,
		},
		{
			name:    "invalid parity",
			opts:    PortOptions{Parity: "X"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.opts.Normalize()
			if tt.wantErr {
				if err == nil {
					t.Errorf("Normalize(%+v) expected error, got %+v", tt.opts, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Normalize(%+v) returned error: %v", tt.opts, err)
			}
			if got != tt.want {
				t.Errorf("Normalize(%+v) = %+v, want %+v", tt.opts, got, tt.want)
			}
		})
	}
}

func TestPortOptionsSerialMode(t *testing.T) {
	mode, err := PortOptions{BaudRate: 115200, Parity: "odd"}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}
	if mode.BaudRate != 115200 {
		t.Errorf("BaudRate = %d, want 115200", mode.BaudRate)
	}
	if mode.Parity != serial.OddParity {
		t.Errorf("Parity = %v, want OddParity", mode.Parity)
	}
	if mode.DataBits != 8 {
		t.Errorf("DataBits = %d, want 8", mode.DataBits)
	}
	if mode.StopBits != serial.OneStopBit {
		t.Errorf("StopBits = %v, want OneStopBit", mode.StopBits)
	}
}

func TestPortOptionsSerialModeTwoStopBits(t *testing.T) {
	mode, err := PortOptions{StopBits: 2}.SerialMode()
	if err != nil {
		t.Fatalf("SerialMode returned error: %v", err)
	}
	if mode.StopBits != serial.TwoStopBits {
		t.Errorf("StopBits = %v, want TwoStopBits", mode.StopBits)
	}
}
