package kwp2000

const (
	/* DIAGNOSTIC MANAGEMENT FUNCTIONAL UNIT */
	START_DIAGNOSTIC_SESSION = 0x10
	ECU_RESET                = 0x11
	READ_ECU_IDENTIFICATION  = 0x1A
	SECURITY_ACCESS          = 0x27
	TESTER_PRESENT           = 0x3E
	STOP_COMMUNICATION       = 0x82

	/* DATA TRANSMISSION FUNCTIONAL UNIT */
	READ_DATA_BY_LOCAL_IDENTIFIER  = 0x21
	READ_MEMORY_BY_ADDRESS         = 0x23
	WRITE_DATA_BY_LOCAL_IDENTIFIER = 0x3B

	/* REMOTE ACTIVATION OF ROUTINE FUNCTIONAL UNIT */
	START_ROUTINE_BY_LOCAL_IDENTIFIER = 0x31

	/* UPLOAD DOWNLOAD FUNCTIONAL UNIT */
	REQUEST_DOWNLOAD      = 0x34
	TRANSFER_DATA         = 0x36
	REQUEST_TRANSFER_EXIT = 0x37

	/* Positive responses carry the service id plus 0x40, negative ones
	   arrive as 0x7F, original service, NRC */
	POSITIVE_RESPONSE_OFFSET = 0x40
	NEGATIVE_RESPONSE        = 0x7F

	/* StartDiagnosticSession session types */
	SESSION_DEFAULT     = 0x89
	SESSION_PROGRAMMING = 0x85

	/* ReadEcuIdentification record identifiers */
	IDENT_VIN         = 0x90
	IDENT_HARDWARE    = 0x92
	IDENT_SOFTWARE    = 0x94
	IDENT_PART_NUMBER = 0x97

	/* StartRoutineByLocalIdentifier routine entry + ids */
	ROUTINE_ENTRY_LOCAL = 0x01
	ROUTINE_ERASE_FLASH = 0xFF00

	/* RequestDownload format byte: 4 byte address, 4 byte length */
	ADDRESS_AND_LENGTH_FORMAT = 0x44

	/* Security access sub-functions: odd requests the seed, the following
	   even value submits the key */
	LEVEL_PROGRAMMING = 0x01
)
