//go:build darwin

package smc

import (
	"encoding/binary"
	"fmt"

	"github.com/sirupsen/logrus"
)

// GetBatteryCharge returns the battery charge.
func (c *AppleSMC) GetBatteryCharge() (int, error) {
	logrus.Tracef("GetBatteryCharge called")

	v, err := c.Read(BatteryChargeKey)
	if err != nil {
		return 0, err
	}

	if len(v.Bytes) != 1 {
		return 0, fmt.Errorf("incorrect data length %d!=1", len(v.Bytes))
	}

	return int(v.Bytes[0]), nil
}

// GetCycleCount returns the battery cycle count.
func (c *AppleSMC) GetCycleCount() (int, error) {
	return c.readUint16(CycleCountKey)
}

// GetBatteryVoltage returns the battery voltage in mV.
func (c *AppleSMC) GetBatteryVoltage() (int, error) {
	return c.readUint16(VoltageKey)
}

// GetTimeToEmpty returns the estimated minutes until the battery is empty.
func (c *AppleSMC) GetTimeToEmpty() (int, error) {
	return c.readUint16(TimeToEmptyKey)
}

// GetFullChargeCapacity returns the full-charge capacity in mAh.
func (c *AppleSMC) GetFullChargeCapacity() (int, error) {
	return c.readUint16(FullChargeCapacityKey)
}

// GetDesignCapacity returns the design capacity in mAh.
func (c *AppleSMC) GetDesignCapacity() (int, error) {
	return c.readUint16(DesignCapacityKey)
}

// GetRemainingCapacity returns the remaining capacity in mAh.
func (c *AppleSMC) GetRemainingCapacity() (int, error) {
	return c.readUint16(RemainingCapacityKey)
}

// IsCharging returns whether current flows into the battery.
func (c *AppleSMC) IsCharging() (bool, error) {
	logrus.Tracef("IsCharging called")

	v, err := c.Read(AmperageKey)
	if err != nil {
		return false, err
	}

	if len(v.Bytes) != 2 {
		return false, fmt.Errorf("incorrect data length %d!=2", len(v.Bytes))
	}

	return int16(binary.LittleEndian.Uint16(v.Bytes)) > 0, nil
}

// IsPluggedIn returns whether the device is plugged in.
func (c *AppleSMC) IsPluggedIn() (bool, error) {
	logrus.Tracef("IsPluggedIn called")

	v, err := c.Read(ACPowerKey)
	if err != nil {
		return false, err
	}

	ret := len(v.Bytes) == 1 && int8(v.Bytes[0]) > 0
	logrus.Tracef("IsPluggedIn returned %t", ret)

	return ret, nil
}

func (c *AppleSMC) readUint16(key string) (int, error) {
	v, err := c.Read(key)
	if err != nil {
		return 0, err
	}

	if len(v.Bytes) != 2 {
		return 0, fmt.Errorf("incorrect data length %d!=2 for key %s", len(v.Bytes), key)
	}

	return int(binary.LittleEndian.Uint16(v.Bytes)), nil
}
