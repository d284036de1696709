package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

const testYaml = `
port: /dev/ttyACM1
read_timeout: 250ms
actuators:
  - name: knee
    oid: 2
    motor_offset: 0.5
    joint_offset: -1.25
    sector_zero: 0.1
    max_duty: 0.4
    measure: true
  - oid: 3
`

func TestConfigParsing(t *testing.T) {
	Convey("parsing is successful", t, func() {
		cfg, err := LoadConfig([]byte(testYaml))
		So(err, ShouldBeNil)

		Convey("link settings are read and defaulted", func() {
			So(cfg.Port, ShouldEqual, "/dev/ttyACM1")
			So(cfg.Baud, ShouldEqual, DefaultBaud)
			So(cfg.ReadTimeout, ShouldEqual, 250*time.Millisecond)
			So(cfg.ResponseTimeout, ShouldEqual, DefaultResponseTimeout)
		})

		Convey("calibration is set", func() {
			knee, ok := cfg.Lookup("knee")
			So(ok, ShouldBeTrue)
			So(knee.OID, ShouldEqual, uint8(2))
			So(knee.MotorOffset, ShouldEqual, 0.5)
			So(knee.JointOffset, ShouldEqual, -1.25)
			So(knee.SectorZero, ShouldEqual, 0.1)
			So(knee.MaxDuty, ShouldEqual, 0.4)
			So(knee.Measure, ShouldBeTrue)
		})

		Convey("missing fields get defaults", func() {
			a, ok := cfg.Lookup("actuator3")
			So(ok, ShouldBeTrue)
			So(a.MaxDuty, ShouldEqual, DefaultMaxDuty)
			So(a.Measure, ShouldBeFalse)
		})
	})
}

func TestConfigValidation(t *testing.T) {
	Convey("duplicate OIDs are rejected", t, func() {
		_, err := LoadConfig([]byte("actuators:\n  - {name: a, oid: 1}\n  - {name: b, oid: 1}\n"))
		So(errors.Is(err, ErrDuplicateActuator), ShouldBeTrue)
	})

	Convey("duplicate names are rejected", t, func() {
		_, err := LoadConfig([]byte("actuators:\n  - {name: a, oid: 1}\n  - {name: a, oid: 2}\n"))
		So(errors.Is(err, ErrDuplicateActuator), ShouldBeTrue)
	})

	Convey("max duty above one is rejected", t, func() {
		_, err := LoadConfig([]byte("actuators:\n  - {oid: 1, max_duty: 1.5}\n"))
		So(errors.Is(err, ErrInvalidMaxDuty), ShouldBeTrue)
	})

	Convey("negative max duty is rejected", t, func() {
		_, err := LoadConfig([]byte("actuators:\n  - {oid: 1, max_duty: -0.2}\n"))
		So(errors.Is(err, ErrInvalidMaxDuty), ShouldBeTrue)
	})

	Convey("non-finite offsets are rejected", t, func() {
		_, err := LoadConfig([]byte("actuators:\n  - {oid: 1, motor_offset: .nan}\n"))
		So(errors.Is(err, ErrInvalidOffset), ShouldBeTrue)
	})

	Convey("malformed YAML is an error", t, func() {
		_, err := LoadConfig([]byte("actuators: [oid: "))
		So(err, ShouldNotBeNil)
	})
}

func TestLoadFile(t *testing.T) {
	Convey("a config file is loaded from disk", t, func() {
		path := filepath.Join(t.TempDir(), "bldc.yaml")
		So(os.WriteFile(path, []byte(testYaml), 0o644), ShouldBeNil)

		cfg, err := Load(path)
		So(err, ShouldBeNil)
		So(len(cfg.Actuators), ShouldEqual, 2)
	})

	Convey("a missing file reports os.ErrNotExist", t, func() {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		So(errors.Is(err, os.ErrNotExist), ShouldBeTrue)
	})
}

func TestEnvironment(t *testing.T) {
	Convey("environment overrides the link settings", t, func() {
		t.Setenv("BLDC_PORT", "/dev/ttyUSB3")
		t.Setenv("BLDC_BAUD", "115200")
		t.Setenv("BLDC_DEBUG", "true")

		e, err := LoadEnv()
		So(err, ShouldBeNil)
		So(e.ConfigPath, ShouldEqual, "bldc.yaml")
		So(e.Debug, ShouldBeTrue)

		cfg := DefaultConfig()
		cfg.ApplyEnv(e)
		So(cfg.Port, ShouldEqual, "/dev/ttyUSB3")
		So(cfg.Baud, ShouldEqual, 115200)
	})

	Convey("an unset environment keeps the file values", t, func() {
		cfg := DefaultConfig()
		cfg.Port = "/dev/ttyACM0"
		cfg.ApplyEnv(Env{})
		So(cfg.Port, ShouldEqual, "/dev/ttyACM0")
		So(cfg.Baud, ShouldEqual, DefaultBaud)
	})

	Convey("a malformed baud is an error", t, func() {
		t.Setenv("BLDC_BAUD", "fast")
		_, err := LoadEnv()
		So(err, ShouldNotBeNil)
	})
}
