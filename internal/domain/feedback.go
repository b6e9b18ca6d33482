package domain

// PasswordFeedback is the optional strength assessment attached to a
// registration response.
type PasswordFeedback struct {
	Strength    string   `json:"strength"`
	Score       int      `json:"score"`
	Feedback    string   `json:"feedback"`
	Suggestions []string `json:"suggestions"`
}

// ErrorExplanation is the optional plain-language explanation attached to
// an authentication failure.
type ErrorExplanation struct {
	Explanation string `json:"explanation"`
	Cause       string `json:"cause"`
	Solution    string `json:"solution"`
	Prevention  string `json:"prevention"`
}

// ErrorKindAuthentication is the error kind passed to the advisor when
// explaining a failed login.
const ErrorKindAuthentication = "authentication"
