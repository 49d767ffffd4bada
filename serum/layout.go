package serum

// Account padding. Every dex account starts with the 5 byte "serum" tag and
// ends with the 7 byte "padding" tag.
const (
	headPadding = 5
	tailPadding = 7

	accountFlagsSize = 8
)

// Market (MarketStateV2) offsets after the head padding is removed.
const (
	MarketSize = 388

	marketOwnAddressOffset             = 8
	marketVaultSignerNonceOffset       = 40
	marketBaseMintOffset               = 48
	marketQuoteMintOffset              = 80
	marketBaseVaultOffset              = 112
	marketBaseDepositsTotalOffset      = 144
	marketBaseFeesAccruedOffset        = 152
	marketQuoteVaultOffset             = 160
	marketQuoteDepositsTotalOffset     = 192
	marketQuoteFeesAccruedOffset       = 200
	marketQuoteDustThresholdOffset     = 208
	marketRequestQueueOffset           = 216
	marketEventQueueOffset             = 248
	marketBidsOffset                   = 280
	marketAsksOffset                   = 312
	marketBaseLotSizeOffset            = 344
	marketQuoteLotSizeOffset           = 352
	marketFeeRateBpsOffset             = 360
	marketReferrerRebatesAccruedOffset = 368
)

// Queue header, 5 bytes head padding and 4 bytes of trailing u32 padding.
const (
	QueueHeaderSize = 37

	queueHeaderTailPadding = 4
	queueHeadOffset        = 8
	queueCountOffset       = 16
	queueNextSeqNumOffset  = 24
)

// Event record.
const (
	EventSize = 88

	eventFlagsOffset             = 0
	eventOpenOrderSlotOffset     = 1
	eventFeeTierOffset           = 2
	eventNativeQtyReleasedOffset = 8
	eventNativeQtyPaidOffset     = 16
	eventNativeFeeOrRebateOffset = 24
	eventOrderIDOffset           = 32
	eventOwnerOffset             = 48
	eventClientOrderIDOffset     = 80
)

// Slab header and nodes.
const (
	SlabHeaderSize = 32
	SlabNodeSize   = 72

	slabBumpIndexOffset     = 0
	slabFreeListLenOffset   = 8
	slabFreeListHeadOffset  = 16
	slabRootOffset          = 20
	slabLeafCountOffset     = 24
	slabNodeTagSize         = 4
	innerPrefixLenOffset    = 0
	innerKeyOffset          = 4
	innerChildrenOffset     = 20
	leafOwnerSlotOffset     = 0
	leafFeeTierOffset       = 1
	leafKeyOffset           = 4
	leafOwnerOffset         = 20
	leafQuantityOffset      = 52
	leafClientOrderIDOffset = 60
	maxPrefixLen            = 128
)

// OpenOrders account offsets after the head padding is removed.
const (
	OpenOrdersSize = 3228

	openOrdersSlots = 128

	openOrdersMarketOffset          = 8
	openOrdersOwnerOffset           = 40
	openOrdersBaseFreeOffset        = 72
	openOrdersBaseTotalOffset       = 80
	openOrdersQuoteFreeOffset       = 88
	openOrdersQuoteTotalOffset      = 96
	openOrdersFreeSlotBitsOffset    = 104
	openOrdersIsBidBitsOffset       = 120
	openOrdersOrdersOffset          = 136
	openOrdersClientIDsOffset       = 2184
	openOrdersReferrerRebatesOffset = 3208
)

// SPL token mint account.
const (
	MintSize = 82

	mintDecimalsOffset      = 44
	mintIsInitializedOffset = 45
)
