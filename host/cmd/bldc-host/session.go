package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/abiosoft/ishell"

	"gobldc/config"
	"gobldc/host/mcu"
	"gobldc/host/serial"
)

var (
	errUsage           = errors.New("usage")
	errUnknownActuator = errors.New("unknown actuator")
)

// link is the part of the MCU connection the shell drives
type link interface {
	Measure(oid uint8, enable bool) error
	ReadJoint(oid uint8) error
	Servo(oid uint8, enable bool) error
	WriteDuty(oid uint8, duty float64) error
	SetMaxDuty(oid uint8, ratio float64) error
	ControlHole(oid uint8, sector int, duty float64) error
	SetOffsets(oid uint8, motor, joint, sectorZero float64) error
	ResetFault(oid uint8) error
	QueryActuator(oid uint8) (mcu.ActuatorState, error)
	EmergencyStop() error
	Reconnect() error
	DumpEvents() ([]mcu.Event, error)
	GetClock() (uint32, error)
	SetDebug(enable bool) error
	ApplyCalibration(a config.Actuator) error
	PrintDictionary(w io.Writer)
}

// session holds the shell state: the link and the selected actuator
type session struct {
	link     link
	cfg      *config.Config
	selected config.Actuator
	out      io.Writer
}

func newSession(l link, cfg *config.Config) *session {
	s := &session{link: l, cfg: cfg, out: os.Stdout}
	if len(cfg.Actuators) > 0 {
		s.selected = cfg.Actuators[0]
	}
	return s
}

// shellCmd is one shell command; args exclude the command name
type shellCmd struct {
	name string
	help string
	run  func(s *session, args []string) error
}

var shellCmds = []shellCmd{
	{"use", "use <name|oid> - select the actuator the other commands act on", (*session).use},
	{"measure", "measure on|off - start or stop sensor polling", (*session).measure},
	{"joint", "joint - request one joint encoder read", (*session).joint},
	{"servo", "servo on|off - enable or disable driving", (*session).servo},
	{"duty", "duty <-1..1> - set the commanded duty", (*session).duty},
	{"maxduty", "maxduty <0..1> - set the duty clamp", (*session).maxDuty},
	{"hole", "hole <sector 0..5> <duty> - drive one sector open loop", (*session).hole},
	{"offsets", "offsets <motor> <joint> <sector_zero> - set zero offsets in rad", (*session).offsets},
	{"reset", "reset - clear latched sensor faults", (*session).resetFault},
	{"state", "state - print the actuator state", (*session).state},
	{"watch", "watch <count> [interval_ms] - print the state repeatedly", (*session).watch},
	{"estop", "estop - emergency stop every actuator", (*session).estop},
	{"reconnect", "reconnect - restart the link, clearing an emergency stop", (*session).reconnect},
	{"calibrate", "calibrate - reapply the configured calibration", (*session).calibrate},
	{"events", "events - dump the firmware event ring", (*session).events},
	{"clock", "clock - print the firmware clock", (*session).clock},
	{"debug", "debug on|off - firmware debug console", (*session).debug},
	{"dict", "dict - print the dictionary summary", (*session).dict},
	{"ports", "ports - list serial ports", (*session).ports},
}

// register adds every command to the shell
func (s *session) register(shell *ishell.Shell) {
	for _, cmd := range shellCmds {
		cmd := cmd
		shell.AddCmd(&ishell.Cmd{
			Name:      cmd.name,
			Help:      cmd.help,
			Completer: s.actuatorNames,
			Func: func(c *ishell.Context) {
				if err := cmd.run(s, c.Args); err != nil {
					if errors.Is(err, errUsage) {
						c.Println(cmd.help)
						return
					}
					c.Err(err)
				}
			},
		})
	}
}

// exec runs one command line; used by tests
func (s *session) exec(line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}
	for _, cmd := range shellCmds {
		if cmd.name == fields[0] {
			return cmd.run(s, fields[1:])
		}
	}
	return fmt.Errorf("%s: %w", fields[0], errUsage)
}

func (s *session) actuatorNames([]string) []string {
	names := make([]string, 0, len(s.cfg.Actuators))
	for _, a := range s.cfg.Actuators {
		names = append(names, a.Name)
	}
	return names
}

func (s *session) oid() uint8 {
	return s.selected.OID
}

func (s *session) use(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	if a, ok := s.cfg.Lookup(args[0]); ok {
		s.selected = a
		fmt.Fprintf(s.out, "Using %s (oid %d)\n", a.Name, a.OID)
		return nil
	}
	oid, err := strconv.ParseUint(args[0], 10, 8)
	if err != nil {
		return fmt.Errorf("%s: %w", args[0], errUnknownActuator)
	}
	s.selected = config.Actuator{Name: "oid" + args[0], OID: uint8(oid), MaxDuty: config.DefaultMaxDuty}
	fmt.Fprintf(s.out, "Using unconfigured oid %d\n", oid)
	return nil
}

func (s *session) measure(args []string) error {
	on, err := parseOnOff(args)
	if err != nil {
		return err
	}
	return s.link.Measure(s.oid(), on)
}

func (s *session) joint(args []string) error {
	return s.link.ReadJoint(s.oid())
}

func (s *session) servo(args []string) error {
	on, err := parseOnOff(args)
	if err != nil {
		return err
	}
	return s.link.Servo(s.oid(), on)
}

func (s *session) duty(args []string) error {
	v, err := parseFloats(args, 1)
	if err != nil {
		return err
	}
	if v[0] < -1 || v[0] > 1 {
		return fmt.Errorf("duty %v out of range -1..1", v[0])
	}
	return s.link.WriteDuty(s.oid(), v[0])
}

func (s *session) maxDuty(args []string) error {
	v, err := parseFloats(args, 1)
	if err != nil {
		return err
	}
	if v[0] < 0 || v[0] > 1 {
		return fmt.Errorf("ratio %v out of range 0..1", v[0])
	}
	return s.link.SetMaxDuty(s.oid(), v[0])
}

func (s *session) hole(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	sector, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("sector: %w", err)
	}
	duty, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("duty: %w", err)
	}
	return s.link.ControlHole(s.oid(), sector, duty)
}

func (s *session) offsets(args []string) error {
	v, err := parseFloats(args, 3)
	if err != nil {
		return err
	}
	return s.link.SetOffsets(s.oid(), v[0], v[1], v[2])
}

func (s *session) resetFault(args []string) error {
	return s.link.ResetFault(s.oid())
}

func (s *session) state(args []string) error {
	st, err := s.link.QueryActuator(s.oid())
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, st)
	return nil
}

func (s *session) watch(args []string) error {
	if len(args) < 1 || len(args) > 2 {
		return errUsage
	}
	count, err := strconv.Atoi(args[0])
	if err != nil || count < 1 {
		return errUsage
	}
	interval := 100 * time.Millisecond
	if len(args) == 2 {
		ms, err := strconv.Atoi(args[1])
		if err != nil || ms < 0 {
			return errUsage
		}
		interval = time.Duration(ms) * time.Millisecond
	}

	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(interval)
		}
		if err := s.state(nil); err != nil {
			return err
		}
	}
	return nil
}

func (s *session) estop(args []string) error {
	return s.link.EmergencyStop()
}

func (s *session) reconnect(args []string) error {
	if err := s.link.Reconnect(); err != nil {
		return err
	}
	fmt.Fprintln(s.out, "Link restarted")
	return nil
}

func (s *session) calibrate(args []string) error {
	for _, a := range s.cfg.Actuators {
		if err := s.link.ApplyCalibration(a); err != nil {
			return err
		}
		fmt.Fprintf(s.out, "Calibrated %s (oid %d)\n", a.Name, a.OID)
	}
	return nil
}

func (s *session) events(args []string) error {
	events, err := s.link.DumpEvents()
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(s.out, "No events")
	}
	for _, e := range events {
		fmt.Fprintln(s.out, e)
	}
	return nil
}

func (s *session) clock(args []string) error {
	clock, err := s.link.GetClock()
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "clock=%d\n", clock)
	return nil
}

func (s *session) debug(args []string) error {
	on, err := parseOnOff(args)
	if err != nil {
		return err
	}
	return s.link.SetDebug(on)
}

func (s *session) dict(args []string) error {
	s.link.PrintDictionary(s.out)
	return nil
}

func (s *session) ports(args []string) error {
	return printPorts(s.out)
}

func printPorts(w io.Writer) error {
	ports, err := serial.ListPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "No serial ports found")
	}
	for _, p := range ports {
		fmt.Fprintln(w, p)
	}
	return nil
}

func parseOnOff(args []string) (bool, error) {
	if len(args) != 1 {
		return false, errUsage
	}
	switch strings.ToLower(args[0]) {
	case "on", "1", "true":
		return true, nil
	case "off", "0", "false":
		return false, nil
	}
	return false, errUsage
}

func parseFloats(args []string, n int) ([]float64, error) {
	if len(args) != n {
		return nil, errUsage
	}
	v := make([]float64, n)
	for i, a := range args {
		f, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("%q: %w", a, err)
		}
		v[i] = f
	}
	return v, nil
}
