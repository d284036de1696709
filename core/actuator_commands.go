package core

import (
	"math"

	"gobldc/protocol"
)

// Wire units
const (
	MicroradPerRad = 1e6
	RatioScale     = 10000 // duty and ratios in 1/10000
)

// InitActuatorCommands registers the actuator commands and responses
func InitActuatorCommands() {
	RegisterCommand("actuator_measure", "oid=%c enable=%c", handleActuatorMeasure)
	RegisterCommand("actuator_read_joint", "oid=%c", handleActuatorReadJoint)
	RegisterCommand("actuator_servo", "oid=%c enable=%c", handleActuatorServo)
	RegisterCommand("actuator_write", "oid=%c duty=%i", handleActuatorWrite)
	RegisterCommand("actuator_set_max_duty", "oid=%c ratio=%u", handleActuatorSetMaxDuty)
	RegisterCommand("actuator_control_hole", "oid=%c sector=%c duty=%i", handleActuatorControlHole)
	RegisterCommand("actuator_set_offsets", "oid=%c motor=%i joint=%i sector_zero=%i", handleActuatorSetOffsets)
	RegisterCommand("actuator_reset_fault", "oid=%c", handleActuatorResetFault)
	RegisterCommand("actuator_query", "oid=%c", handleActuatorQuery)

	RegisterResponse("actuator_state", "oid=%c motor_angle=%i joint_angle=%i angle=%i"+
		" velocity=%i wheel_angle=%i integrated_angle=%i sector=%c duty=%i flags=%c"+
		" motor_reads=%u joint_reads=%u")

	RegisterConstant("ACTUATOR_CONTROL_FREQ", uint32(DefaultControlFrequency))
	RegisterConstant("ACTUATOR_SENSOR_TRANSITIONS", uint32(SensorTransitions))
	RegisterConstant("ACTUATOR_REDUCTION_RATIO", uint32(DefaultReductionRatio))
	RegisterConstant("ACTUATOR_RATIO_SCALE", uint32(RatioScale))
}

func decodeActuator(data *[]byte) (*Actuator, error) {
	oid, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	return GetActuator(uint8(oid))
}

func handleActuatorMeasure(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	a.Measure(enable != 0)
	return nil
}

func handleActuatorReadJoint(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	a.Sensor.RequestReadJointAngle()
	return nil
}

func handleActuatorServo(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	return a.Servo(enable != 0)
}

func handleActuatorWrite(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	duty, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	a.Motor.Write(fromRatio(duty))
	return nil
}

func handleActuatorSetMaxDuty(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	ratio, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	a.Motor.SetMaxDutyRatio(float32(ratio) / RatioScale)
	return nil
}

func handleActuatorControlHole(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	sector, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	duty, err := protocol.DecodeVLQInt(data)
	if err != nil {
		return err
	}
	return a.ControlHole(int(sector), fromRatio(duty))
}

func handleActuatorSetOffsets(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	var urad [3]int32
	for i := range urad {
		if urad[i], err = protocol.DecodeVLQInt(data); err != nil {
			return err
		}
	}
	a.SetOffsets(fromMicro(urad[0]), fromMicro(urad[1]), fromMicro(urad[2]))
	return nil
}

func handleActuatorResetFault(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	a.ResetFault()
	return nil
}

func handleActuatorQuery(data *[]byte) error {
	a, err := decodeActuator(data)
	if err != nil {
		return err
	}
	st := a.State()
	return SendResponse("actuator_state", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(a.OID()))
		protocol.EncodeVLQInt(output, toMicro(st.MotorAngle))
		protocol.EncodeVLQInt(output, toMicro(st.JointAngle))
		protocol.EncodeVLQInt(output, toMicro(st.Angle))
		protocol.EncodeVLQInt(output, toMilli(st.Velocity))
		protocol.EncodeVLQInt(output, toMicro(st.WheelAngle))
		protocol.EncodeVLQInt(output, toMicro(st.IntegratedAngle))
		protocol.EncodeVLQUint(output, uint32(st.Sector))
		protocol.EncodeVLQInt(output, toRatio(st.Duty))
		protocol.EncodeVLQUint(output, uint32(st.Flags))
		protocol.EncodeVLQUint(output, st.MotorReads)
		protocol.EncodeVLQUint(output, st.JointReads)
	})
}

func fromMicro(v int32) float32 {
	return float32(float64(v) / MicroradPerRad)
}

func fromRatio(v int32) float32 {
	return float32(v) / RatioScale
}

// saturate rounds v and clamps it into int32
func saturate(v float64) int32 {
	v = math.Round(v)
	if v >= math.MaxInt32 {
		return math.MaxInt32
	}
	if v <= math.MinInt32 {
		return math.MinInt32
	}
	if math.IsNaN(v) {
		return 0
	}
	return int32(v)
}

func toMicro(rad float32) int32 {
	return saturate(float64(rad) * MicroradPerRad)
}

func toMilli(v float32) int32 {
	return saturate(float64(v) * 1000)
}

func toRatio(v float32) int32 {
	return saturate(float64(v) * RatioScale)
}
