package ledger

// Function is the closed set of contract entry points the reconciliation
// pipeline understands. Unknown wire tokens map to FunctionUnknown and are
// handled explicitly by the dispatcher rather than falling through.
type Function string

const (
	FunctionUnknown        Function = ""
	FunctionInstantPay     Function = "instant-pay"
	FunctionSinglePay      Function = "single-pay"
	FunctionPullSchedule   Function = "pull-schedule"
	FunctionAgreementSetup Function = "agreement-setup"
	FunctionMaxFundAdjust  Function = "max-fund-adjust"
	FunctionWithdrawal     Function = "withdrawal"
	FunctionDepositIssue   Function = "deposit-issue"
	FunctionRegister       Function = "register"
)

// Wire tokens emitted by the smart contract in the first notification tuple.
var functionTokens = map[string]Function{
	"PRO_InstantPay":       FunctionInstantPay,
	"PRO_SinglePay":        FunctionSinglePay,
	"PRO_PullSchedule":     FunctionPullSchedule,
	"PRO_Agreement":        FunctionAgreementSetup,
	"PRO_MaxFundAdjust":    FunctionMaxFundAdjust,
	"TOK_Withdrawl":        FunctionWithdrawal,
	"TOK_Issued_By_Deposit": FunctionDepositIssue,
	"register":             FunctionRegister,
}

func FunctionFromToken(token string) Function {
	return functionTokens[token]
}
