package main

import "github.com/InfinitoSolutions/ibl-pay-api/common"

func GetConfigure() (*common.CoreConfig, error) {
	return common.GetConfigure()
}
