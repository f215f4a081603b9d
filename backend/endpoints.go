package backend

// Paths relative to the backend root.
const (
	PathCheckUser        = "login/checkUser"
	PathLogin            = "login/loginAysnSuggest"
	PathLogout           = "login/loginOut"
	PathIndex            = "index/init"
	PathCaptchaImage     = "passcodeNew/getPassCodeNew.do"
	PathCaptchaCheck     = "passcodeNew/checkRandCodeAnsyn"
	PathTrainQuery       = "leftTicket/query"
	PathSubmitOrder      = "leftTicket/submitOrderRequest"
	PathConfirmOneWay    = "confirmPassenger/initDc"
	PathConfirmRoundTrip = "confirmPassenger/initWc"
	PathPassengers       = "confirmPassenger/getPassengerDTOs"
	PathCheckOrderInfo   = "confirmPassenger/checkOrderInfo"
	PathQueueCount       = "confirmPassenger/getQueueCount"
	PathConfirmForQueue  = "confirmPassenger/confirmSingleForQueue"
	PathOrderWaitTime    = "confirmPassenger/queryOrderWaitTime"
	PathStationNames     = "resources/js/framework/station_name.js"
)

// Form fields shared by several purchase endpoints.
const (
	FieldRepeatSubmit     = "REPEAT_SUBMIT_TOKEN"
	FieldKeyCheckIsChange = "key_check_isChange"
)
