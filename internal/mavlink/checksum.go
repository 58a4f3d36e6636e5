package mavlink

// x25 accumulates the MAVLink X.25 (CRC-16/MCRF4XX) checksum
func x25(crc uint16, data []byte) uint16 {
	for _, b := range data {
		tmp := b ^ uint8(crc)
		tmp ^= tmp << 4
		crc = crc>>8 ^ uint16(tmp)<<8 ^ uint16(tmp)<<3 ^ uint16(tmp)>>4
	}
	return crc
}

// Checksum computes the frame checksum over everything after the start
// byte up to the end of the payload, seeded with the message's CRC extra
func Checksum(headerAndPayload []byte, crcExtra uint8) uint16 {
	crc := x25(0xFFFF, headerAndPayload)
	return x25(crc, []byte{crcExtra})
}

// CRCExtraFunc returns the CRC extra byte of a message id, or false when
// the id is not part of the dialect
type CRCExtraFunc func(msgID uint32) (uint8, bool)

// CommonCRCExtra looks up ids from the common dialect
func CommonCRCExtra(msgID uint32) (uint8, bool) {
	extra, ok := commonCRCExtra[msgID]
	return extra, ok
}

var commonCRCExtra = map[uint32]uint8{
	0:   50,  // HEARTBEAT
	1:   124, // SYS_STATUS
	2:   137, // SYSTEM_TIME
	4:   237, // PING
	5:   217, // CHANGE_OPERATOR_CONTROL
	6:   104, // CHANGE_OPERATOR_CONTROL_ACK
	7:   119, // AUTH_KEY
	11:  89,  // SET_MODE
	20:  214, // PARAM_REQUEST_READ
	21:  159, // PARAM_REQUEST_LIST
	22:  220, // PARAM_VALUE
	23:  168, // PARAM_SET
	24:  24,  // GPS_RAW_INT
	26:  170, // SCALED_IMU
	27:  144, // RAW_IMU
	29:  115, // SCALED_PRESSURE
	30:  39,  // ATTITUDE
	31:  246, // ATTITUDE_QUATERNION
	32:  185, // LOCAL_POSITION_NED
	33:  104, // GLOBAL_POSITION_INT
	35:  244, // RC_CHANNELS_RAW
	36:  222, // SERVO_OUTPUT_RAW
	39:  254, // MISSION_ITEM
	40:  230, // MISSION_REQUEST
	41:  28,  // MISSION_SET_CURRENT
	42:  28,  // MISSION_CURRENT
	43:  132, // MISSION_REQUEST_LIST
	44:  221, // MISSION_COUNT
	45:  232, // MISSION_CLEAR_ALL
	46:  11,  // MISSION_ITEM_REACHED
	47:  153, // MISSION_ACK
	49:  39,  // GPS_GLOBAL_ORIGIN
	51:  196, // MISSION_REQUEST_INT
	62:  183, // NAV_CONTROLLER_OUTPUT
	65:  118, // RC_CHANNELS
	66:  148, // REQUEST_DATA_STREAM
	69:  243, // MANUAL_CONTROL
	70:  124, // RC_CHANNELS_OVERRIDE
	73:  38,  // MISSION_ITEM_INT
	74:  20,  // VFR_HUD
	75:  158, // COMMAND_INT
	76:  152, // COMMAND_LONG
	77:  143, // COMMAND_ACK
	82:  49,  // SET_ATTITUDE_TARGET
	83:  22,  // ATTITUDE_TARGET
	84:  143, // SET_POSITION_TARGET_LOCAL_NED
	85:  140, // POSITION_TARGET_LOCAL_NED
	86:  5,   // SET_POSITION_TARGET_GLOBAL_INT
	87:  150, // POSITION_TARGET_GLOBAL_INT
	105: 93,  // HIGHRES_IMU
	109: 185, // RADIO_STATUS
	110: 84,  // FILE_TRANSFER_PROTOCOL
	111: 34,  // TIMESYNC
	116: 76,  // SCALED_IMU2
	117: 128, // LOG_REQUEST_LIST
	118: 56,  // LOG_ENTRY
	119: 116, // LOG_REQUEST_DATA
	120: 134, // LOG_DATA
	124: 87,  // GPS2_RAW
	125: 203, // POWER_STATUS
	126: 220, // SERIAL_CONTROL
	130: 29,  // DATA_TRANSMISSION_HANDSHAKE
	131: 223, // ENCAPSULATED_DATA
	132: 85,  // DISTANCE_SENSOR
	136: 1,   // TERRAIN_REPORT
	137: 195, // SCALED_PRESSURE2
	141: 47,  // ALTITUDE
	147: 154, // BATTERY_STATUS
	148: 178, // AUTOPILOT_VERSION
	230: 163, // ESTIMATOR_STATUS
	233: 35,  // GPS_RTCM_DATA
	241: 90,  // VIBRATION
	242: 104, // HOME_POSITION
	244: 95,  // MESSAGE_INTERVAL
	245: 130, // EXTENDED_SYS_STATE
	246: 184, // ADSB_VEHICLE
	249: 204, // MEMORY_VECT
	250: 49,  // DEBUG_VECT
	251: 170, // NAMED_VALUE_FLOAT
	252: 44,  // NAMED_VALUE_INT
	253: 83,  // STATUSTEXT
	254: 46,  // DEBUG
	300: 217, // PROTOCOL_VERSION
}
