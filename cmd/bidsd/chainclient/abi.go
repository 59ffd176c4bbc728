package chainclient

const ledgerABI = `[
	{"type":"function","name":"createBid","stateMutability":"pure",
	 "inputs":[
		{"name":"bidNonce","type":"uint256"},
		{"name":"bidAmount","type":"uint256"},
		{"name":"nftAddress","type":"address"},
		{"name":"tokenId","type":"uint256"},
		{"name":"minBid","type":"uint256"},
		{"name":"startBlock","type":"uint256"},
		{"name":"expireBlock","type":"uint256"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"createBidV2","stateMutability":"view",
	 "inputs":[
		{"name":"bidNonce","type":"uint256"},
		{"name":"bidAmount","type":"uint256"},
		{"name":"tokenId","type":"uint256"},
		{"name":"minimumBid","type":"uint256"},
		{"name":"startBlock","type":"uint256"},
		{"name":"expireBlock","type":"uint256"},
		{"name":"bidToken","type":"address"}],
	 "outputs":[{"name":"","type":"bytes32"}]},
	{"type":"function","name":"getPaymentTokenForDomain","stateMutability":"view",
	 "inputs":[{"name":"domainTokenId","type":"uint256"}],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token","stateMutability":"view",
	 "inputs":[],
	 "outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"consumed","stateMutability":"view",
	 "inputs":[{"name":"","type":"address"},{"name":"","type":"uint256"}],
	 "outputs":[{"name":"","type":"bool"}]}
]`

const erc20ABI = `[
	{"type":"function","name":"balanceOf","stateMutability":"view",
	 "inputs":[{"name":"account","type":"address"}],
	 "outputs":[{"name":"","type":"uint256"}]}
]`
