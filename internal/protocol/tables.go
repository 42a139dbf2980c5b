// Package protocol implements the protocol filter (C9): identifying the
// well-known DeFi protocol and operation a transaction targets, checking
// the operation against sanity bounds, and computing the multiplicative
// risk adjustment that recalibrates the raw score.
package protocol

// Protocol is a well-known DeFi counterparty a transaction's recipient
// may resolve to.
type Protocol string

const (
	Unknown     Protocol = "unknown"
	UniswapV2   Protocol = "uniswap_v2"
	UniswapV3   Protocol = "uniswap_v3"
	Sushiswap   Protocol = "sushiswap"
	Curve       Protocol = "curve"
	Balancer    Protocol = "balancer"
	AaveV2      Protocol = "aave_v2"
	AaveV3      Protocol = "aave_v3"
	Compound    Protocol = "compound"
	Maker       Protocol = "maker"
	OneInch     Protocol = "1inch"
	Paraswap    Protocol = "paraswap"
	Cowswap     Protocol = "cowswap"
	Stargate    Protocol = "stargate"
	Hop         Protocol = "hop"
	Across      Protocol = "across"
	Yearn       Protocol = "yearn"
	Convex      Protocol = "convex"
	Lido        Protocol = "lido"
)

// Operation is the function-level action a transaction's selector
// resolves to.
type Operation string

const (
	OpUnknown                 Operation = "unknown"
	OpSwap                    Operation = "swap"
	OpAddLiquidity            Operation = "add_liquidity"
	OpRemoveLiquidity         Operation = "remove_liquidity"
	OpDeposit                 Operation = "deposit"
	OpWithdraw                Operation = "withdraw"
	OpBorrow                  Operation = "borrow"
	OpRepay                   Operation = "repay"
	OpLiquidate               Operation = "liquidate"
	OpFlashLoanArbitrage      Operation = "flash_loan_arbitrage"
	OpFlashLoanCollateralSwap Operation = "flash_loan_collateral_swap"
	OpStake                   Operation = "stake"
	OpUnstake                 Operation = "unstake"
	OpClaimRewards            Operation = "claim_rewards"
	OpGovernance              Operation = "governance"
	OpBridge                  Operation = "bridge"
)

// addresses maps a well-known mainnet contract address (lowercase hex) to
// the protocol it belongs to.
var addresses = map[string]Protocol{
	"0x7a250d5630b4cf539739df2c5dacb4c659f2488d": UniswapV2,
	"0xe592427a0aece92de3edee1f18e0157c05861564": UniswapV3,
	"0x68b3465833fb72a70ecdf485e0e4c7bd8665fc45": UniswapV3,
	"0x000000000022d473030f116ddee9f6b43ac78ba3": UniswapV3,
	"0x3fc91a3afd70395cd496c647d5a6cc9d4b2b7fad": UniswapV3,
	"0xd9e1ce17f2641f24ae83637ab66a2cca9c378b9f": Sushiswap,
	"0x99a58482bd75cbab83b27ec03ca68ff489b5788f": Curve,
	"0xba12222222228d8ba445958a75a0704d566bf2c8": Balancer,
	"0x7d2768de32b0b80b7a3454c06bdac94a69ddc7a9": AaveV2,
	"0x87870bca3f3fd6335c3f4ce8392d69350b4fa4e2": AaveV3,
	"0x3d9819210a31b4961b30ef54be2aed79b9c9cd3b": Compound,
	"0x1111111254eeb25477b68fb85ed929f73a960582": OneInch,
	"0x111111125421ca6dc452d289314280a0f8842a65": OneInch,
	"0xae7ab96520de3a18e5e111b5eaab095312d7fe84": Lido,
	"0x5ef30b9986345249bc32d8928b7ee64de9435e39": Maker,
}

// selectors maps a 4-byte function selector (lowercase hex) to the
// operation it performs.
var selectors = map[string]Operation{
	"0x38ed1739": OpSwap,
	"0x8803dbee": OpSwap,
	"0x7ff36ab5": OpSwap,
	"0x18cbafe5": OpSwap,
	"0x5c11d795": OpSwap,
	"0xb6f9de95": OpSwap,
	"0x791ac947": OpSwap,
	"0x04e45aaf": OpSwap,
	"0xc04b8d59": OpSwap,
	"0x472b43f3": OpSwap,
	"0x3593564c": OpSwap,
	"0x12aa3caf": OpSwap,
	"0xe449022e": OpSwap,
	"0xe8e33700": OpAddLiquidity,
	"0xf305d719": OpAddLiquidity,
	"0xbaa2abde": OpRemoveLiquidity,
	"0x02751cec": OpRemoveLiquidity,
	"0xe8eda9df": OpDeposit,
	"0x617ba037": OpDeposit,
	"0x69328dec": OpWithdraw,
	"0xa415bcad": OpBorrow,
	"0x573ade81": OpRepay,
	"0x00a718a9": OpLiquidate,
	"0xa0712d68": OpDeposit,
	"0xdb006a75": OpWithdraw,
	"0xc5ebeaec": OpBorrow,
	"0x0e752702": OpRepay,
	"0xa694fc3a": OpStake,
	"0x2e1a7d4d": OpUnstake,
	"0x3d18b912": OpClaimRewards,
	"0xe9fad8ee": OpUnstake,
	"0x15373e3d": OpGovernance,
	"0x56781388": OpGovernance,
}

// Bounds is the set of sanity limits an operation's observed transaction
// is checked against. A zero field means that dimension is not bounded
// for this operation.
type Bounds struct {
	MaxValueUSD      float64
	MaxPriceImpactBp int
	MaxGas           uint64
	MaxContracts     int
	MinHealthFactor  float64
	MaxProfitUSD     float64
	MustRepay        bool
}

// operationBounds carries normal-operating bounds for the subset of
// operations the original reference model bounds-checks.
var operationBounds = map[Operation]Bounds{
	OpSwap: {
		MaxValueUSD:      10_000_000,
		MaxPriceImpactBp: 500,
		MaxGas:           1_000_000,
		MaxContracts:     15,
	},
	OpAddLiquidity: {
		MaxValueUSD:  50_000_000,
		MaxGas:       500_000,
		MaxContracts: 10,
	},
	OpDeposit: {
		MaxValueUSD:  100_000_000,
		MaxGas:       500_000,
		MaxContracts: 10,
	},
	OpBorrow: {
		MaxValueUSD:     50_000_000,
		MinHealthFactor: 1.1,
		MaxGas:          800_000,
		MaxContracts:    15,
	},
	OpFlashLoanArbitrage: {
		MaxProfitUSD: 100_000,
		MaxGas:       2_000_000,
		MustRepay:    true,
	},
}

// etherPriceUSD is the fixed price constant used to approximate a native
// value delta in USD for bounds checking, per §4.8.
const etherPriceUSD = 2000.0

// safeOperations get an extra reduction only when fully verified: known
// protocol, within bounds, and no flash loan observed.
var safeOperations = map[Operation]bool{
	OpSwap:          true,
	OpAddLiquidity:  true,
	OpDeposit:       true,
	OpStake:         true,
	OpClaimRewards:  true,
	OpGovernance:    true,
}

// exemptFromFlashLoanPenalty is the set of operations where observing a
// flash loan is expected and does not increase risk.
var exemptFromFlashLoanPenalty = map[Operation]bool{
	OpFlashLoanArbitrage:      true,
	OpFlashLoanCollateralSwap: true,
	OpLiquidate:               true,
}
