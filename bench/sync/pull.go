// Package bench compares this module's Device.Pull against the stock adb
// CLI and the gadb library, pulling the same framebuffer node three ways.
package bench

import (
	"context"
	"os"
	"os/exec"
	"testing"

	"github.com/nanxin/gadb"

	"adbhost/config"
	"adbhost/device"
	"adbhost/logging"
)

var (
	deviceID  = os.Getenv("DEVICE_ID")
	deviceTCP = os.Getenv("DEVICE_ADDR") // host:port for this module's TCP transport
)

const pullSource = "/dev/graphics/fb0"

func BenchmarkPullFB0UsingADBCLI(b *testing.B) {
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		cmd := exec.Command("adb", "-s", deviceID, "pull", pullSource, os.DevNull)
		if err := cmd.Run(); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkPullFB0UsingGadbClient(b *testing.B) {
	client, err := gadb.NewClient()
	if err != nil {
		b.Fatal(err)
	}
	devices, err := client.DeviceList()
	if err != nil {
		b.Fatal(err)
	}

	var target *gadb.Device
	for i := range devices {
		if devices[i].Serial() == deviceID {
			target = &devices[i]
			break
		}
	}
	if target == nil {
		b.Skipf("device %q not found via gadb", deviceID)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		out, err := os.Create(os.DevNull)
		if err != nil {
			b.Fatal(err)
		}
		err = target.Pull(pullSource, out)
		out.Close()
		if err != nil {
			b.Fatalf("gadb pull failed: %v", err)
		}
	}
}

func BenchmarkPullFB0UsingDevice(b *testing.B) {
	if deviceTCP == "" {
		b.Skip("DEVICE_ADDR not set")
	}
	ctx := context.Background()
	d, err := device.DialTCP(ctx, deviceTCP, config.Default(), logging.Nop{})
	if err != nil {
		b.Fatal(err)
	}
	defer d.Close()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := d.Pull(ctx, pullSource, os.DevNull); err != nil {
			b.Fatalf("device pull failed: %v", err)
		}
	}
}
