// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

package sensors

// MPU6050 I2C address with AD0 pulled low.
const Address uint16 = 0x68

// Register offsets.
const (
	RegSmplrtDiv   byte = 0x19
	RegConfig      byte = 0x1A
	RegGyroConfig  byte = 0x1B
	RegAccelConfig byte = 0x1C
	RegAccelXOutH  byte = 0x3B
	RegTempOutH    byte = 0x41
	RegGyroXOutH   byte = 0x43
	RegUserCtrl    byte = 0x6A
	RegPwrMgmt1    byte = 0x6B
	RegPwrMgmt2    byte = 0x6C
	RegWhoAmI      byte = 0x75
)

// Register values written during initialization.
const (
	PwrMgmt1DeviceReset byte = 0x80 // H_RESET
	PwrMgmt1PLLGyroZ    byte = 0x03 // SLEEP 0, CYCLE 0, TEMP_DIS 0, CLKSEL 3
	ConfigDLPF260Hz     byte = 0x00 // EXT_SYNC_SET 0, DLPF_CFG 0 (accel 260Hz, gyro 256Hz)
	GyroConfigFS2000    byte = 0x18 // FS_SEL 3, ±2000°/s
	AccelConfigFS8G     byte = 0x10 // AFS_SEL 2, ±8g, ACCEL_HPF 0
)

// BitField describes a bit range inside a register.
type BitField struct {
	Bits        string `json:"bits"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Values      string `json:"values,omitempty"`
}

// RegisterInfo describes one device register.
type RegisterInfo struct {
	Address     byte       `json:"address"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Access      string     `json:"access"` // "R", "W", "RW"
	Default     byte       `json:"default"`
	BitFields   []BitField `json:"bit_fields,omitempty"`
}

// RegisterMap returns metadata for the MPU6050 registers this core touches,
// plus the identification and sample rate registers useful when debugging.
func RegisterMap() []RegisterInfo {
	return []RegisterInfo{
		{Address: RegSmplrtDiv, Name: "SMPLRT_DIV", Description: "Sample Rate Divider", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:0", Name: "SMPLRT_DIV", Description: "Sample Rate = Gyro Output Rate / (1 + SMPLRT_DIV)", Values: "0-255"},
			}},
		{Address: RegConfig, Name: "CONFIG", Description: "Configuration (FSYNC, DLPF)", Access: "RW",
			BitFields: []BitField{
				{Bits: "5:3", Name: "EXT_SYNC_SET", Description: "External FSYNC pin sampling", Values: "0=Disabled"},
				{Bits: "2:0", Name: "DLPF_CFG", Description: "Digital Low Pass Filter", Values: "0=260Hz, 1=184Hz, 2=94Hz, 3=44Hz, 4=21Hz, 5=10Hz, 6=5Hz"},
			}},
		{Address: RegGyroConfig, Name: "GYRO_CONFIG", Description: "Gyroscope Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:5", Name: "XG_ST/YG_ST/ZG_ST", Description: "Gyro self-test", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "FS_SEL", Description: "Gyro Full Scale Range", Values: "0=±250°/s, 1=±500°/s, 2=±1000°/s, 3=±2000°/s"},
			}},
		{Address: RegAccelConfig, Name: "ACCEL_CONFIG", Description: "Accelerometer Configuration", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:5", Name: "XA_ST/YA_ST/ZA_ST", Description: "Accel self-test", Values: "0=Disabled, 1=Enabled"},
				{Bits: "4:3", Name: "AFS_SEL", Description: "Accel Full Scale Range", Values: "0=±2g, 1=±4g, 2=±8g, 3=±16g"},
				{Bits: "2:0", Name: "ACCEL_HPF", Description: "Digital high pass filter", Values: "0=Reset/Off"},
			}},

		{Address: RegAccelXOutH, Name: "ACCEL_XOUT_H", Description: "Accelerometer X-Axis High Byte", Access: "R"},
		{Address: RegAccelXOutH + 1, Name: "ACCEL_XOUT_L", Description: "Accelerometer X-Axis Low Byte", Access: "R"},
		{Address: RegAccelXOutH + 2, Name: "ACCEL_YOUT_H", Description: "Accelerometer Y-Axis High Byte", Access: "R"},
		{Address: RegAccelXOutH + 3, Name: "ACCEL_YOUT_L", Description: "Accelerometer Y-Axis Low Byte", Access: "R"},
		{Address: RegAccelXOutH + 4, Name: "ACCEL_ZOUT_H", Description: "Accelerometer Z-Axis High Byte", Access: "R"},
		{Address: RegAccelXOutH + 5, Name: "ACCEL_ZOUT_L", Description: "Accelerometer Z-Axis Low Byte", Access: "R"},
		{Address: RegTempOutH, Name: "TEMP_OUT_H", Description: "Temperature High Byte", Access: "R"},
		{Address: RegTempOutH + 1, Name: "TEMP_OUT_L", Description: "Temperature Low Byte", Access: "R"},
		{Address: RegGyroXOutH, Name: "GYRO_XOUT_H", Description: "Gyroscope X-Axis High Byte", Access: "R"},
		{Address: RegGyroXOutH + 1, Name: "GYRO_XOUT_L", Description: "Gyroscope X-Axis Low Byte", Access: "R"},
		{Address: RegGyroXOutH + 2, Name: "GYRO_YOUT_H", Description: "Gyroscope Y-Axis High Byte", Access: "R"},
		{Address: RegGyroXOutH + 3, Name: "GYRO_YOUT_L", Description: "Gyroscope Y-Axis Low Byte", Access: "R"},
		{Address: RegGyroXOutH + 4, Name: "GYRO_ZOUT_H", Description: "Gyroscope Z-Axis High Byte", Access: "R"},
		{Address: RegGyroXOutH + 5, Name: "GYRO_ZOUT_L", Description: "Gyroscope Z-Axis Low Byte", Access: "R"},

		{Address: RegUserCtrl, Name: "USER_CTRL", Description: "User Control", Access: "RW",
			BitFields: []BitField{
				{Bits: "6", Name: "FIFO_EN", Description: "Enable FIFO", Values: "0=Disabled, 1=Enabled"},
				{Bits: "5", Name: "I2C_MST_EN", Description: "Enable I2C Master", Values: "0=Disabled, 1=Enabled"},
				{Bits: "2", Name: "FIFO_RESET", Description: "Reset FIFO", Values: "1=Reset"},
				{Bits: "0", Name: "SIG_COND_RESET", Description: "Reset signal paths", Values: "1=Reset"},
			}},
		{Address: RegPwrMgmt1, Name: "PWR_MGMT_1", Description: "Power Management 1", Access: "RW", Default: 0x40,
			BitFields: []BitField{
				{Bits: "7", Name: "DEVICE_RESET", Description: "Device reset", Values: "1=Reset device"},
				{Bits: "6", Name: "SLEEP", Description: "Sleep mode", Values: "0=Disabled, 1=Sleep"},
				{Bits: "5", Name: "CYCLE", Description: "Cycle mode", Values: "0=Disabled, 1=Cycle"},
				{Bits: "3", Name: "TEMP_DIS", Description: "Temperature sensor", Values: "0=Enabled, 1=Disabled"},
				{Bits: "2:0", Name: "CLKSEL", Description: "Clock source", Values: "0=Internal 8MHz, 1=PLL X gyro, 2=PLL Y gyro, 3=PLL Z gyro"},
			}},
		{Address: RegPwrMgmt2, Name: "PWR_MGMT_2", Description: "Power Management 2", Access: "RW",
			BitFields: []BitField{
				{Bits: "7:6", Name: "LP_WAKE_CTRL", Description: "Wake-up frequency in accel-only low power mode", Values: "0=1.25Hz ... 3=40Hz"},
				{Bits: "5:3", Name: "STBY_XA/YA/ZA", Description: "Accelerometer axis standby", Values: "0=Enabled, 1=Standby"},
				{Bits: "2:0", Name: "STBY_XG/YG/ZG", Description: "Gyro axis standby", Values: "0=Enabled, 1=Standby"},
			}},
		{Address: RegWhoAmI, Name: "WHO_AM_I", Description: "Device ID (should be 0x68)", Access: "R", Default: 0x68},
	}
}
